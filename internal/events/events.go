// Package events implements the Status Handler (§4.6): the single place
// every call point (Runner Dispatcher, Status poller, Drift Reconciler)
// goes through to record an Event and the deployment's current status, and
// to write Change Records at plan-completion time, as one KV event plus
// one deployment record in a single transactional batch.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
)

// Handler is the Status Handler (§4.6). It owns no state beyond its driver
// binding; ordering (at most one in-flight write per deployment_id, §5) is
// the caller's responsibility — in this codebase that's
// internal/deployment.Store, which always calls through Handler inside its
// own per-deployment mutex.
type Handler struct {
	Driver providerapi.Driver
	Table  string
	Bucket string
}

func New(driver providerapi.Driver, table, bucket string) *Handler {
	return &Handler{Driver: driver, Table: table, Bucket: bucket}
}

// StatusUpdate collects everything one call point reports about a single
// command's progress (§4.6: "command, module identity, status,
// environment, deployment id, error text, job id, name, variables,
// dependencies, outputs, policy results").
type StatusUpdate struct {
	ProjectID    string
	Region       string
	Environment  string
	DeploymentID string
	ModuleName   string
	Track        string
	Version      string
	ModuleType   model.ModuleType
	Command      model.Command
	Status       model.DeploymentStatus
	Error        string
	JobID        string
	Variables    map[string]any
	Outputs      map[string]any
	Dependencies []model.DependencyRef
	PolicyResults []model.PolicyResult
	InitiatedBy  string
	DriftDetection model.DriftDetection
	Deleted      bool
	HasDrifted   bool
	Epoch        int64 // assigned by the caller; monotonic per deployment_id
}

// EventOp implements §4.6 "On send_event": builds the write for an Event
// row keyed by deployment_id + epoch, with a derived id. Exposed as an Op
// (rather than issued directly) so internal/deployment can fold it into
// the single transactional batch §4.5 requires alongside the deployment
// record and any dependent-edge changes.
func (h *Handler) EventOp(u StatusUpdate) kv.Op {
	ev := &model.Event{
		DeploymentID:  u.DeploymentID,
		Epoch:         u.Epoch,
		ID:            fmt.Sprintf("%s-%s-%d-%s-%s", u.ModuleName, u.DeploymentID, u.Epoch, u.Command, u.Status),
		Event:         u.Command,
		Status:        u.Status,
		Error:         u.Error,
		JobID:         u.JobID,
		Timestamp:     time.Now(),
		Output:        u.Outputs,
		PolicyResults: u.PolicyResults,
	}
	return kv.Op{Item: kv.Item{Table: h.Table, PK: kv.EventPK(u.DeploymentID), SK: kv.EventSK(u.Epoch), Value: ev}}
}

// DeploymentOp implements §4.6 "On send_deployment": builds the write for
// the deployment record with its deleted/has_drifted flags.
func (h *Handler) DeploymentOp(dep *model.Deployment) kv.Op {
	return kv.Op{Item: kv.Item{Table: h.Table, PK: dep.PK(), SK: kv.MetadataSK, Value: dep}}
}

// SendEvent issues EventOp as a standalone transaction, for call points
// that report an event without a paired deployment write. No package in
// this repository calls it; the drift reconciler records no events of its
// own.
func (h *Handler) SendEvent(ctx context.Context, u StatusUpdate) error {
	return h.Driver.TransactWrite(ctx, []kv.Op{h.EventOp(u)})
}

// SendDeployment issues DeploymentOp as a standalone transaction.
// internal/deployment.Store is the only caller that needs the combined
// event+deployment+dependent-edge batch and builds it directly from the Op
// builders above instead of calling this method.
func (h *Handler) SendDeployment(ctx context.Context, dep *model.Deployment) error {
	return h.Driver.TransactWrite(ctx, []kv.Op{h.DeploymentOp(dep)})
}

// RecordChange implements §4.6 "Change records are written at plan
// completion time": upload the raw plan JSON, then insert the metadata
// row.
func (h *Handler) RecordChange(ctx context.Context, rec *model.ChangeRecord, planRawJSON []byte) error {
	if len(planRawJSON) > 0 {
		key := fmt.Sprintf("plans/%s/%s.json", rec.DeploymentID, rec.JobID)
		if err := h.Driver.UploadFileBase64(ctx, h.Bucket, key, planRawJSON); err != nil {
			return errs.Wrap(errs.KindUploadModuleError, err, "uploading plan JSON for %s", rec.DeploymentID)
		}
		rec.PlanRawJSONKey = key
	}
	rec.Timestamp = time.Now()
	return h.Driver.TransactWrite(ctx, []kv.Op{
		{Item: kv.Item{Table: h.Table, PK: rec.PK(), SK: kv.ChangeRecordSK(rec.JobID), Value: rec}},
	})
}
