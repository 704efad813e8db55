// Package kv builds the backend-agnostic record keys described in spec §6.
// The Provider Driver (internal/provider) realizes these as DynamoDB
// composite keys, Cosmos document ids, or in-memory map keys (the None
// driver), but the key shapes themselves are shared so every backend agrees
// on what "the same record" means.
package kv

import "fmt"

// Item is a single KV record: a table/collection name, a partition key, a
// sort key, and an opaque JSON-able value. It is the unit the Provider
// Driver's TransactWrite and ReadDB operate on (§4.1).
type Item struct {
	Table string
	PK    string
	SK    string
	Value any
}

// Condition, when set on a Put/Delete op, makes the write conditional; a
// violated condition surfaces as errs.KindConditionalCheckFailed (§4.1).
type Condition struct {
	// Expression is backend-specific (e.g. "attribute_not_exists(PK)");
	// drivers translate it into their native conditional-write syntax.
	Expression string
}

// Op is one write within a TransactWrite batch (§4.1, §4.5.1: "All of this
// goes into a single transactional batch with the deployment row itself").
type Op struct {
	Delete    bool
	Item      Item
	Condition *Condition
}

func ModulePK(track, name string) string { return fmt.Sprintf("MODULE#%s#%s", track, name) }
func StackPK(track, name string) string  { return fmt.Sprintf("STACK#%s#%s", track, name) }

// PolicyEnvPK is the partition every policy published under an environment
// shares, so `get_all_policies(env)` is a single-partition query (§4.2
// "Queries").
func PolicyEnvPK(env string) string { return fmt.Sprintf("POLICY#%s", env) }

// PolicyVersionSK scopes a policy's version row within its environment
// partition by name, so multiple policies can share PolicyEnvPK.
func PolicyVersionSK(name, zeroPadded string) string {
	return fmt.Sprintf("%s#VERSION#%s", name, zeroPadded)
}

// PolicyNameSKPrefix scopes a query to one policy's versions within its
// environment partition.
func PolicyNameSKPrefix(name string) string { return name + "#VERSION#" }

func VersionSK(zeroPadded string) string { return "VERSION#" + zeroPadded }

const CurrentPK = "CURRENT"

func CurrentModuleSK(track, name string) string { return fmt.Sprintf("MODULE#%s#%s", track, name) }
func CurrentStackSK(track, name string) string  { return fmt.Sprintf("STACK#%s#%s", track, name) }

// CurrentPolicySK names the CURRENT-partition pointer row for the newest
// version of one policy in one environment, mirroring CurrentModuleSK/
// CurrentStackSK. CurrentPolicySKPrefix scopes a query to every policy's
// latest pointer within an environment (`get_all_policies(env)`, §4.2
// "Queries").
func CurrentPolicySK(env, name string) string { return fmt.Sprintf("POLICY#%s#%s", env, name) }
func CurrentPolicySKPrefix(env string) string { return fmt.Sprintf("POLICY#%s#", env) }

func DeploymentPK(project, region, env, deploymentID string) string {
	return fmt.Sprintf("DEPLOYMENT#%s::%s::%s::%s", project, region, env, deploymentID)
}

const MetadataSK = "METADATA"

// DependentSK renders the sort key for a back-reference row stored under a
// dependency's partition (§4.5.1, §6): "PK = DEPLOYMENT#...{dep}, SK =
// DEPENDENT#{project}::{region}::{dependent_id}::{env}".
func DependentSK(project, region, dependentID, env string) string {
	return fmt.Sprintf("DEPENDENT#%s::%s::%s::%s", project, region, dependentID, env)
}

const DependentSKPrefix = "DEPENDENT#"

func EventPK(deploymentID string) string { return deploymentID }
func EventSK(epoch int64) string         { return fmt.Sprintf("%d", epoch) }

func ChangeRecordPK(changeType, project, region, env, deploymentID string) string {
	return fmt.Sprintf("%s#%s::%s::%s::%s", changeType, project, region, env, deploymentID)
}
func ChangeRecordSK(jobID string) string { return jobID }

// Object-storage key builders (§6 "Object-storage keys").
func ModuleArchiveKey(name, ver string) string { return fmt.Sprintf("modules/%s/%s-%s.zip", name, name, ver) }
func PolicyArchiveKey(name, ver string) string { return fmt.Sprintf("policies/%s/%s-%s.zip", name, name, ver) }

// DriftPK is the single sparse partition the Drift Reconciler scans
// (§4.9 step 1): every deployment due for a schedulable drift check gets
// one row here, keyed so a lexicographic SK comparison doubles as a
// numeric epoch comparison, the same zero-padding trick version.ZeroPadded
// uses for semver ordering. Deployments hidden from the reconciler
// (next_drift_check_epoch = -1, §4.5 reentrancy) never get a row here.
const DriftPK = "DRIFT"

// DriftSK renders the sort key for one deployment's drift-schedule
// pointer: a zero-padded epoch (sortable ascending) followed by the
// deployment's identity, so two deployments due at the same epoch don't
// collide.
func DriftSK(epoch int64, project, region, env, deploymentID string) string {
	return fmt.Sprintf("EPOCH#%020d#%s::%s::%s::%s", epoch, project, region, env, deploymentID)
}

// DriftSKBefore renders the upper-bound SK for "every row due at or before
// now": '~' (0x7E) sorts after every character DriftSK's identity suffix
// uses, so DriftSKBefore(now) lexicographically follows every row with
// epoch == now regardless of identity, while still preceding any row with
// epoch > now.
func DriftSKBefore(now int64) string {
	return fmt.Sprintf("EPOCH#%020d~", now)
}

// Query is a backend-agnostic query shape; drivers translate it into a
// native index/partition query (§4.1 read_db, §4.2 "Each maps to a
// predefined query shape and is driver-translated").
type Query struct {
	Table    string
	PK       string
	SKPrefix string
	SKEquals string
	// SKLessOrEqual, when set, matches rows whose sort key is
	// lexicographically <= this value instead of a prefix/equality match
	// (the Drift Reconciler's "next_drift_check_epoch <= now" scan, §4.9
	// step 1, against the fixed-width keys DriftSK/DriftSKBefore produce).
	SKLessOrEqual string
	Descending    bool
	Limit         int
}
