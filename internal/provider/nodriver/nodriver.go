// Package nodriver implements the providerapi.Driver capability set
// entirely in-process, with no external backend. Spec §4.1 names it
// explicitly: "a None no-op used in tests". provider.Select returns it when
// CLOUD_PROVIDER is "none" or unset; the standalone `runner-sim` dev binary
// stands in for the runner whose launch StartRunner only records.
package nodriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
)

type itemKey struct {
	table string
	pk    string
	sk    string
}

// job is a fake runner job tracked entirely in memory.
type job struct {
	id     string
	lines  []string
	failed bool
}

// Driver is the in-memory, single-process Provider Driver variant.
type Driver struct {
	mu      sync.Mutex
	items   map[itemKey][]byte
	objects map[string][]byte
	jobs    map[string]*job
	userID  string
	region  string
}

// New constructs an empty in-memory driver.
func New() *Driver {
	return &Driver{
		items:   make(map[itemKey][]byte),
		objects: make(map[string][]byte),
		jobs:    make(map[string]*job),
		userID:  "test-user",
		region:  "local",
	}
}

func (d *Driver) Name() string { return "none" }

func (d *Driver) RunFunction(_ context.Context, event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Other(err)
	}
	return []byte(fmt.Sprintf(`{"event":%q,"echo":%s}`, event, payload)), nil
}

func (d *Driver) TransactWrite(_ context.Context, ops []kv.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Validate all conditions first so the batch is all-or-nothing (§5
	// "Mutations on deployment records must go through a single
	// transactional batch").
	for _, op := range ops {
		k := itemKey{op.Item.Table, op.Item.PK, op.Item.SK}
		_, exists := d.items[k]
		if op.Condition != nil {
			switch op.Condition.Expression {
			case "attribute_not_exists(PK)":
				if exists {
					return errs.New(errs.KindConditionalCheckFailed, "%s/%s/%s already exists", op.Item.Table, op.Item.PK, op.Item.SK)
				}
			case "attribute_exists(PK)":
				if !exists {
					return errs.New(errs.KindConditionalCheckFailed, "%s/%s/%s does not exist", op.Item.Table, op.Item.PK, op.Item.SK)
				}
			}
		}
	}

	for _, op := range ops {
		k := itemKey{op.Item.Table, op.Item.PK, op.Item.SK}
		if op.Delete {
			delete(d.items, k)
			continue
		}
		raw, err := json.Marshal(op.Item.Value)
		if err != nil {
			return errs.Other(err)
		}
		d.items[k] = raw
	}
	return nil
}

func (d *Driver) ReadDB(_ context.Context, q kv.Query) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var keys []itemKey
	for k := range d.items {
		if k.table != q.Table || k.pk != q.PK {
			continue
		}
		if q.SKEquals != "" && k.sk != q.SKEquals {
			continue
		}
		if q.SKPrefix != "" && !strings.HasPrefix(k.sk, q.SKPrefix) {
			continue
		}
		if q.SKLessOrEqual != "" && k.sk > q.SKLessOrEqual {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if q.Descending {
			return keys[i].sk > keys[j].sk
		}
		return keys[i].sk < keys[j].sk
	})
	if q.Limit > 0 && len(keys) > q.Limit {
		keys = keys[:q.Limit]
	}
	matches := make([][]byte, 0, len(keys))
	for _, k := range keys {
		matches = append(matches, d.items[k])
	}
	return matches, nil
}

func (d *Driver) UploadFileBase64(_ context.Context, bucket, key string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[bucket+"/"+key] = append([]byte(nil), content...)
	return nil
}

func (d *Driver) GeneratePresignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[bucket+"/"+key]; !ok {
		return "", errs.New(errs.KindNotFound, "%s/%s", bucket, key)
	}
	return fmt.Sprintf("memory://%s/%s?ttl=%s", bucket, key, ttl), nil
}

func (d *Driver) StartRunner(_ context.Context, spec providerapi.JobSpec) (string, error) {
	_ = spec
	id := "job-" + uuid.NewString()
	d.mu.Lock()
	d.jobs[id] = &job{id: id}
	d.mu.Unlock()
	return id, nil
}

// ReadObject returns a stored object's bytes directly; artifactstore's
// archive download uses it for this driver (the Driver interface has no
// generic download; real backends expose presigned URLs instead).
func (d *Driver) ReadObject(bucket, key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.objects[bucket+"/"+key]
	return v, ok
}

func (d *Driver) PublishNotification(_ context.Context, _ any) error { return nil }

func (d *Driver) GetUserID() (string, error) { return d.userID, nil }
func (d *Driver) GetCurrentJobID() (string, error) {
	return "", errs.New(errs.KindEnvironmentNotAvailable, "no current job outside a runner")
}
func (d *Driver) GetRegion() (string, error) { return d.region, nil }

// logCursor iterates a fixed slice of lines already present at call time —
// the None driver has no async producer, so every Next after the slice is
// exhausted returns io.EOF immediately rather than blocking.
type logCursor struct {
	lines []string
	pos   int
}

func (c *logCursor) Next(ctx context.Context) (string, error) {
	if c.pos >= len(c.lines) {
		return "", io.EOF
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	line := c.lines[c.pos]
	c.pos++
	return line, nil
}

func (c *logCursor) Cursor() string { return fmt.Sprintf("%d", c.pos) }
func (c *logCursor) Close() error   { return nil }

func (d *Driver) ReadLogs(_ context.Context, jobID string, _ string, _ int) (providerapi.LogCursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[jobID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "job %s", jobID)
	}
	return &logCursor{lines: append([]string(nil), j.lines...)}, nil
}

// SeedJob lets tests pre-populate a fake job's logs/outcome.
func (d *Driver) SeedJob(jobID string, lines []string, failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs[jobID] = &job{id: jobID, lines: lines, failed: failed}
}

// JobFailed reports the seeded outcome of a fake job, used by tests that
// simulate the runner reporting failure.
func (d *Driver) JobFailed(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[jobID]
	return ok && j.failed
}

var _ providerapi.Driver = (*Driver)(nil)
