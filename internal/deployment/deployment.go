// Package deployment implements the Deployment Store and state machine
// (§4.5) and its dependency-edge bookkeeping (§4.5.1): one deployment
// record plus any dependent-edge rows, all written in one transactional
// batch per §5 "Shared resources"'s "must go through a single
// transactional batch that includes any dependent-edge changes", with
// writes to any one deployment_id serialized.
package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
)

// Store is the Deployment Store: one binding per process, serializing
// writes per deployment_id (§5 "at most one in-flight [write] per
// deployment_id in a given process").
type Store struct {
	Driver providerapi.Driver
	Events *events.Handler
	Table  string

	mu     sync.Mutex
	inFlight map[string]*sync.Mutex
}

func New(driver providerapi.Driver, evHandler *events.Handler, table string) *Store {
	return &Store{Driver: driver, Events: evHandler, Table: table, inFlight: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(deploymentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.inFlight[deploymentID]
	if !ok {
		l = &sync.Mutex{}
		s.inFlight[deploymentID] = l
	}
	return l
}

// Get loads a deployment record by its identity (§3, §6).
func (s *Store) Get(ctx context.Context, projectID, region, env, deploymentID string) (*model.Deployment, error) {
	pk := fmt.Sprintf("DEPLOYMENT#%s::%s::%s::%s", projectID, region, env, deploymentID)
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: pk, SKEquals: kv.MetadataSK, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindNotFound, "deployment %s", deploymentID)
	}
	return decodeDeployment(rows[0])
}

// DriftCandidate names one deployment the DRIFT index reports as due for a
// check, identity only — the reconciler re-fetches the full record via Get
// right before dispatching, so it always acts on current state.
type DriftCandidate struct {
	ProjectID    string
	Region       string
	Environment  string
	DeploymentID string
}

// DueForDriftCheck implements §4.9 step 1: every deployment whose
// next_drift_check_epoch is <= now, read off the DRIFT sparse index rather
// than scanned deployment-by-deployment.
func (s *Store) DueForDriftCheck(ctx context.Context, now int64) ([]DriftCandidate, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: kv.DriftPK, SKLessOrEqual: kv.DriftSKBefore(now)})
	if err != nil {
		return nil, err
	}
	out := make([]DriftCandidate, 0, len(rows))
	for _, row := range rows {
		var c DriftCandidate
		if err := json.Unmarshal(row, &c); err != nil {
			return nil, errs.Other(err)
		}
		out = append(out, c)
	}
	return out, nil
}

// TransitionInput is everything one state change needs: the desired new
// deployment snapshot, the event to record alongside it, and whether this
// command is a `plan` (which, per §4.5, "terminates without mutating the
// deployment state but records drift").
type TransitionInput struct {
	Deployment *model.Deployment
	Event      events.StatusUpdate
	IsPlan     bool
}

// Transition applies one state change: diffs dependency edges against the
// previously stored record (§4.5.1), enforces the reentrancy and
// dependents-on-delete invariants (§4.5), and writes the event, deployment
// record, and every dependent-edge change in a single TransactWrite call.
func (s *Store) Transition(ctx context.Context, in TransitionInput) error {
	dep := in.Deployment
	lock := s.lockFor(dep.DeploymentID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.Get(ctx, dep.ProjectID, dep.Region, dep.Environment, dep.DeploymentID)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return err
	}

	if in.IsPlan {
		// A plan never mutates status/dependencies; only drift bookkeeping
		// may advance (§4.5).
		if prev != nil {
			dep.Status = prev.Status
			dep.Dependencies = prev.Dependencies
			dep.Deleted = prev.Deleted
		}
	}

	applyReentrancy(dep)

	ops := []kv.Op{s.Events.EventOp(in.Event)}
	ops = append(ops, s.driftIndexOps(dep, prev)...)

	if dep.Deleted {
		if prev != nil {
			hasDependents, err := s.hasDependents(ctx, dep)
			if err != nil {
				return err
			}
			if hasDependents {
				return errs.New(errs.KindValidationError, "deployment %s has remaining dependents", dep.DeploymentID)
			}
			// A has no dependents of its own to clear (checked above); it
			// only needs removing from every one of its former
			// dependencies' partitions (§4.5.1).
			ops = append(ops, s.removeEdgeOps(dep, prev.Dependencies)...)
		}
	} else if !in.IsPlan {
		var prevDeps []model.DependencyRef
		if prev != nil {
			prevDeps = prev.Dependencies
		}
		ops = append(ops, s.diffEdgeOps(dep, prevDeps, dep.Dependencies)...)
	}

	ops = append(ops, s.Events.DeploymentOp(dep))

	return s.Driver.TransactWrite(ctx, ops)
}

// applyReentrancy implements §4.5's "next_drift_check_epoch" rule: hidden
// from the reconciler while in flight, scheduled on reaching a terminal
// state.
func applyReentrancy(dep *model.Deployment) {
	if !dep.Status.Terminal() {
		dep.DriftDetection.NextCheckEpoch = -1
		return
	}
	if dep.DriftDetection.Enabled && !dep.Deleted {
		dep.DriftDetection.NextCheckEpoch = time.Now().Unix() + dep.DriftDetection.Interval
	} else {
		dep.DriftDetection.NextCheckEpoch = -1
	}
}

// driftIndexOps keeps the DRIFT sparse index (§4.9 step 1) in sync with a
// deployment's next_drift_check_epoch: the old pointer (if any) is removed
// and a new one inserted iff the new epoch schedules a future check. Epoch
// -1 (reentrancy guard, §4.5) simply leaves the deployment unindexed.
func (s *Store) driftIndexOps(dep *model.Deployment, prev *model.Deployment) []kv.Op {
	var ops []kv.Op
	if prev != nil && prev.DriftDetection.NextCheckEpoch >= 0 {
		ops = append(ops, kv.Op{Delete: true, Item: kv.Item{
			Table: s.Table,
			PK:    kv.DriftPK,
			SK:    kv.DriftSK(prev.DriftDetection.NextCheckEpoch, prev.ProjectID, prev.Region, prev.Environment, prev.DeploymentID),
		}})
	}
	if dep.DriftDetection.NextCheckEpoch >= 0 {
		ops = append(ops, kv.Op{Item: kv.Item{
			Table: s.Table,
			PK:    kv.DriftPK,
			SK:    kv.DriftSK(dep.DriftDetection.NextCheckEpoch, dep.ProjectID, dep.Region, dep.Environment, dep.DeploymentID),
			Value: DriftCandidate{ProjectID: dep.ProjectID, Region: dep.Region, Environment: dep.Environment, DeploymentID: dep.DeploymentID},
		}})
	}
	return ops
}

// hasDependents reports whether any other deployment currently lists dep
// as a dependency, by checking for DEPENDENT rows under dep's own
// partition (§4.5.1 "Invariant checked on delete").
func (s *Store) hasDependents(ctx context.Context, dep *model.Deployment) (bool, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: dep.PK(), SKPrefix: kv.DependentSKPrefix, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// diffEdgeOps implements §4.5.1: added edges get a DEPENDENT row inserted
// under the dependency's partition; removed edges get it deleted.
func (s *Store) diffEdgeOps(dep *model.Deployment, oldDeps, newDeps []model.DependencyRef) []kv.Op {
	ops := s.removeEdgeOps(dep, missing(newDeps, oldDeps))
	ops = append(ops, s.addEdgeOps(dep, missing(oldDeps, newDeps))...)
	return ops
}

func (s *Store) addEdgeOps(dep *model.Deployment, added []model.DependencyRef) []kv.Op {
	ops := make([]kv.Op, 0, len(added))
	for _, d := range added {
		pk := fmt.Sprintf("DEPLOYMENT#%s::%s::%s::%s", dep.ProjectID, dep.Region, d.Environment, d.DeploymentID)
		sk := kv.DependentSK(dep.ProjectID, dep.Region, dep.DeploymentID, dep.Environment)
		ops = append(ops, kv.Op{Item: kv.Item{Table: s.Table, PK: pk, SK: sk, Value: dep.DeploymentID}})
	}
	return ops
}

func (s *Store) removeEdgeOps(dep *model.Deployment, removed []model.DependencyRef) []kv.Op {
	ops := make([]kv.Op, 0, len(removed))
	for _, d := range removed {
		pk := fmt.Sprintf("DEPLOYMENT#%s::%s::%s::%s", dep.ProjectID, dep.Region, d.Environment, d.DeploymentID)
		sk := kv.DependentSK(dep.ProjectID, dep.Region, dep.DeploymentID, dep.Environment)
		ops = append(ops, kv.Op{Delete: true, Item: kv.Item{Table: s.Table, PK: pk, SK: sk}})
	}
	return ops
}

// missing returns the elements of b not present in a (used both ways: b\a
// is "added", a\b is "removed").
func missing(a, b []model.DependencyRef) []model.DependencyRef {
	present := make(map[model.DependencyRef]bool, len(a))
	for _, d := range a {
		present[d] = true
	}
	var out []model.DependencyRef
	for _, d := range b {
		if !present[d] {
			out = append(out, d)
		}
	}
	return out
}

func decodeDeployment(raw []byte) (*model.Deployment, error) {
	var d model.Deployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errs.Other(err)
	}
	return &d, nil
}
