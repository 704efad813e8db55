// Package providerapi defines the Provider Driver capability set (spec
// §4.1, §9 "the Provider Driver is a tagged variant"). It exists separately
// from package provider so that the concrete variants (awsdriver,
// azuredriver, nodriver) can depend on the interface without an import
// cycle through provider.Select.
package providerapi

import (
	"context"
	"time"

	"github.com/infraweave-io/infraweave/internal/kv"
)

// JobSpec describes a runner launch request (§4.1 start_runner).
type JobSpec struct {
	Image     string
	Env       map[string]string
	CPU       string
	Memory    string
	Command   []string
	Timeout   time.Duration
}

// LogCursor is a lazy, resumable cursor over a job's log lines (§4.1
// read_logs). Each call may suspend on I/O; the long-poll behavior (§5,
// 20s) is implementation-specific to the driver.
type LogCursor interface {
	// Next blocks until at least one line is available, ctx is done, or the
	// underlying job's logs are exhausted (io.EOF).
	Next(ctx context.Context) (line string, err error)
	Cursor() string
	Close() error
}

// Driver is the capability set exposed to the rest of the core (§4.1).
// Every method carries an implicit per-call deadline via ctx; no method
// blocks indefinitely and no method swallows errors.
type Driver interface {
	// RunFunction sends a discriminated JSON event to the backend's compute
	// entrypoint (§6 "Runner event payload") and returns its JSON result.
	RunFunction(ctx context.Context, event string, data any) (json []byte, err error)

	// TransactWrite performs a list of put/delete ops atomically. A
	// violated Condition surfaces as errs.KindConditionalCheckFailed.
	TransactWrite(ctx context.Context, ops []kv.Op) error

	// ReadDB executes a backend-agnostic query and returns matching items'
	// raw JSON values.
	ReadDB(ctx context.Context, q kv.Query) ([][]byte, error)

	// UploadFileBase64 uploads content (already base64 in transit, decoded
	// before storage) to bucket/key.
	UploadFileBase64(ctx context.Context, bucket, key string, content []byte) error

	// GeneratePresignedURL returns a time-limited URL for bucket/key.
	GeneratePresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// StartRunner launches the IaC runner and returns an opaque job id.
	StartRunner(ctx context.Context, spec JobSpec) (jobID string, err error)

	// ReadLogs returns a cursor over a job's log lines, optionally resuming
	// from a prior cursor and capped at limit lines per call.
	ReadLogs(ctx context.Context, jobID string, cursor string, limit int) (LogCursor, error)

	// PublishNotification fans out an event (e.g. drift-detected webhook).
	PublishNotification(ctx context.Context, data any) error

	GetUserID() (string, error)
	GetCurrentJobID() (string, error)
	GetRegion() (string, error)

	// Name identifies the variant for logging/diagnostics.
	Name() string
}

// ObjectStore is the subset of Driver the Artifact Store needs for archive
// upload; satisfied by Driver itself, kept separate so tests can stub a
// narrower surface.
type ObjectStore interface {
	UploadFileBase64(ctx context.Context, bucket, key string, content []byte) error
	GeneratePresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
