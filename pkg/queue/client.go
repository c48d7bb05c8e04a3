// Package queue implements the docq job queue contract and its backends.
//
// Producers submit documents keyed by a content hash, workers claim pending
// tasks, process them, and store a result or an error. Three interchangeable
// backends realize the same contract:
//   - FSClient: a shared filesystem, one directory per (module, state)
//   - RedisClient: Redis hashes plus a sorted set for FIFO order
//   - HTTPClient: a client of the docq REST service
//
// Callers hold the Client interface and pick a backend once, at
// construction, via NewClient's address-shape dispatch. Correctness of the
// claim operation rests entirely on the atomicity of a single relocation
// step in each backend: concurrent claims never return the same id.
package queue

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

// ErrorMime is the sentinel content type that marks a stored outcome as an
// error description rather than a result on the store-outcome wire call.
const ErrorMime = "application/prs.error+text"

// DefaultPollInterval is the cadence at which ProcessInline polls status.
const DefaultPollInterval = 100 * time.Millisecond

// TaskResult is one entry of a bulk result lookup: either the produced
// result or the stored error text, never both.
type TaskResult struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkOptions control resubmission behavior of BulkProcess.
type BulkOptions struct {
	// ResetError forces tasks currently in ERROR back to PENDING.
	ResetError bool

	// ResetPending rewrites tasks currently in PENDING, refreshing their
	// queue position and document.
	ResetPending bool
}

// Client is the queue contract. All operations are scoped to a
// (module, id) pair and behave identically across backends.
type Client interface {
	// Process submits a document for processing and returns its task id.
	// If id is empty it is derived from the document content. Submission
	// is idempotent: a task whose id already exists is left untouched.
	Process(ctx context.Context, module, doc, id string) (string, error)

	// Status reports the current state of a task. A missing id yields
	// StatusUnknown, never an error.
	Status(ctx context.Context, module, id string) (tasks.Status, error)

	// Result returns the outcome of a finished task, optionally converted
	// to the given format via the module's Convert capability. It fails
	// with ErrNotFound for unknown ids, ErrNotReady before a terminal
	// state, and *ProcessingError when the task ended in ERROR.
	Result(ctx context.Context, module, id, format string) (string, error)

	// GetTask atomically claims the oldest pending task of the module,
	// marking it STARTED. It returns nil when the queue is empty.
	// Concurrent callers never receive the same task.
	GetTask(ctx context.Context, module string) (*tasks.Task, error)

	// StoreResult records a successful outcome for a claimed task.
	// Legal only when the task is STARTED, DONE, or ERROR; a prior
	// outcome is replaced.
	StoreResult(ctx context.Context, module, id, result string) error

	// StoreError records a failure outcome. Same transition rules as
	// StoreResult.
	StoreError(ctx context.Context, module, id, message string) error

	// BulkStatus looks up the status of each id independently.
	BulkStatus(ctx context.Context, module string, ids []string) (map[string]tasks.Status, error)

	// BulkResult fetches outcomes for each id; unfinished or unknown ids
	// are reported per entry rather than failing the whole call.
	BulkResult(ctx context.Context, module string, ids []string, format string) (map[string]TaskResult, error)

	// BulkProcess submits many documents, returning their ids in input
	// order. If ids is non-nil it must be the same length as docs and
	// supplies explicit ids.
	BulkProcess(ctx context.Context, module string, docs, ids []string, opts BulkOptions) ([]string, error)

	// Statistics counts the module's tasks per stored state.
	Statistics(ctx context.Context, module string) (map[tasks.Status]int, error)
}

// NewClient constructs the backend matching the shape of addr:
// "http://"/"https://" selects the REST client, "redis://" the Redis
// backend, anything else is taken as a filesystem directory. The registry
// is only used for result-format conversion and may be nil.
func NewClient(addr string, reg *modules.Registry) (Client, error) {
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return NewHTTPClient(addr), nil
	case strings.HasPrefix(addr, "redis://"), strings.HasPrefix(addr, "rediss://"):
		return NewRedisClient(addr, reg)
	default:
		return NewFSClient(addr, reg)
	}
}

// ProcessInline submits a document if needed, then polls until it reaches a
// terminal state and returns its result. interval <= 0 uses
// DefaultPollInterval. The context bounds the wait: on expiry the call
// returns ErrTimeout (the task itself keeps its state and can still be
// picked up later).
func ProcessInline(ctx context.Context, c Client, module, doc string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	id, err := c.Process(ctx, module, doc, "")
	if err != nil {
		return "", err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx, module, id)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return c.Result(ctx, module, id, "")
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s/%s: %v", ErrTimeout, module, id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ClaimTasks claims up to n tasks lazily: each task is fetched from the
// backend only when the consumer advances. The sequence ends early when the
// queue drains or a claim fails; it is a single consuming pass.
func ClaimTasks(ctx context.Context, c Client, module string, n int) iter.Seq2[*tasks.Task, error] {
	return func(yield func(*tasks.Task, error) bool) {
		for i := 0; i < n; i++ {
			task, err := c.GetTask(ctx, module)
			if err != nil {
				yield(nil, err)
				return
			}
			if task == nil {
				return
			}
			if !yield(task, nil) {
				return
			}
		}
	}
}

// bulkStatus implements BulkStatus as independent lookups. Used by the
// backends that have no batched primitive of their own.
func bulkStatus(ctx context.Context, c Client, module string, ids []string) (map[string]tasks.Status, error) {
	statuses := make(map[string]tasks.Status, len(ids))
	for _, id := range ids {
		status, err := c.Status(ctx, module, id)
		if err != nil {
			return nil, err
		}
		statuses[id] = status
	}
	return statuses, nil
}

// bulkResult implements BulkResult as independent lookups, folding per-id
// failures into the entry instead of aborting the batch.
func bulkResult(ctx context.Context, c Client, module string, ids []string, format string) (map[string]TaskResult, error) {
	results := make(map[string]TaskResult, len(ids))
	for _, id := range ids {
		result, err := c.Result(ctx, module, id, format)
		if err != nil {
			results[id] = TaskResult{Error: err.Error()}
			continue
		}
		results[id] = TaskResult{Result: result}
	}
	return results, nil
}

// bulkProcess implements BulkProcess on top of single submissions.
func bulkProcess(ctx context.Context, c Client, module string, docs, ids []string, opts BulkOptions) ([]string, error) {
	if ids != nil && len(ids) != len(docs) {
		return nil, fmt.Errorf("bulk process: %d ids for %d docs", len(ids), len(docs))
	}
	out := make([]string, 0, len(docs))
	for i, doc := range docs {
		id := ""
		if ids != nil {
			id = ids[i]
		}
		resolved := id
		if resolved == "" {
			resolved = tasks.GetID(doc)
		}
		status, err := c.Status(ctx, module, resolved)
		if err != nil {
			return nil, err
		}
		reset := (opts.ResetError && status == tasks.StatusError) ||
			(opts.ResetPending && status == tasks.StatusPending)
		if reset {
			if err := resubmit(ctx, c, module, doc, resolved, status); err != nil {
				return nil, err
			}
			out = append(out, resolved)
			continue
		}
		got, err := c.Process(ctx, module, doc, id)
		if err != nil {
			return nil, err
		}
		out = append(out, got)
	}
	return out, nil
}

// resubmitter is implemented by backends that can force a task back to
// PENDING, clearing its existing record first.
type resubmitter interface {
	resubmit(ctx context.Context, module, doc, id string, prior tasks.Status) error
}

func resubmit(ctx context.Context, c Client, module, doc, id string, prior tasks.Status) error {
	r, ok := c.(resubmitter)
	if !ok {
		return fmt.Errorf("backend %T cannot reset task %s/%s", c, module, id)
	}
	return r.resubmit(ctx, module, doc, id, prior)
}
