package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

// statusDirs maps each stored state to its subdirectory under
// <root>/<module>/. Which directory holds the id file determines the task's
// status; absence from all four means UNKNOWN.
var statusDirs = map[tasks.Status]string{
	tasks.StatusPending: "queue",
	tasks.StatusStarted: "inprogress",
	tasks.StatusDone:    "results",
	tasks.StatusError:   "errors",
}

// FSClient implements the queue contract on a shared filesystem (local disk
// or NFS). The file's write-time mtime records the submission timestamp;
// rename preserves mtime, so pending-directory mtimes stay valid for FIFO
// ordering across the whole lifecycle.
//
// Claim atomicity comes from os.Rename: of two workers racing to move the
// same pending file into inprogress, exactly one rename succeeds.
type FSClient struct {
	root string
	reg  *modules.Registry
}

// NewFSClient creates a filesystem backend rooted at dir. The registry is
// only consulted for result-format conversion and may be nil.
func NewFSClient(dir string, reg *modules.Registry) (*FSClient, error) {
	if dir == "" {
		return nil, fmt.Errorf("fs backend: empty root directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Err: err}
	}
	return &FSClient{root: dir, reg: reg}, nil
}

// Root returns the backend's storage directory.
func (c *FSClient) Root() string { return c.root }

func (c *FSClient) dir(module string, status tasks.Status) string {
	return filepath.Join(c.root, module, statusDirs[status])
}

func (c *FSClient) filename(module string, status tasks.Status, id string) string {
	return filepath.Join(c.dir(module, status), id)
}

func (c *FSClient) ensureDirs(module string) error {
	for _, sub := range statusDirs {
		if err := os.MkdirAll(filepath.Join(c.root, module, sub), 0o755); err != nil {
			return &StorageError{Op: "mkdir", Err: err}
		}
	}
	return nil
}

func (c *FSClient) write(module string, status tasks.Status, id, doc string) error {
	if err := c.ensureDirs(module); err != nil {
		return err
	}
	if err := os.WriteFile(c.filename(module, status, id), []byte(doc), 0o644); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

func (c *FSClient) read(module string, status tasks.Status, id string) (string, error) {
	data, err := os.ReadFile(c.filename(module, status, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, module, id)
		}
		return "", &StorageError{Op: "read", Err: err}
	}
	return string(data), nil
}

func (c *FSClient) Process(ctx context.Context, module, doc, id string) (string, error) {
	if id == "" {
		id = tasks.GetID(doc)
	}
	status, err := c.Status(ctx, module, id)
	if err != nil {
		return "", err
	}
	if status != tasks.StatusUnknown {
		return id, nil
	}
	if err := c.write(module, tasks.StatusPending, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (c *FSClient) Status(_ context.Context, module, id string) (tasks.Status, error) {
	for _, status := range tasks.Statuses {
		if _, err := os.Stat(c.filename(module, status, id)); err == nil {
			return status, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return tasks.StatusUnknown, &StorageError{Op: "stat", Err: err}
		}
	}
	return tasks.StatusUnknown, nil
}

func (c *FSClient) Result(ctx context.Context, module, id, format string) (string, error) {
	status, err := c.Status(ctx, module, id)
	if err != nil {
		return "", err
	}
	switch status {
	case tasks.StatusDone:
		result, err := c.read(module, tasks.StatusDone, id)
		if err != nil {
			return "", err
		}
		if format != "" {
			return c.reg.Convert(module, result, format)
		}
		return result, nil
	case tasks.StatusError:
		msg, err := c.read(module, tasks.StatusError, id)
		if err != nil {
			return "", err
		}
		return "", &ProcessingError{Module: module, ID: id, Message: msg}
	case tasks.StatusUnknown:
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, module, id)
	default:
		return "", fmt.Errorf("%w: %s/%s is %s", ErrNotReady, module, id, status)
	}
}

// pendingEntry pairs a pending task id with its submission time for FIFO
// selection.
type pendingEntry struct {
	id      string
	created time.Time
}

// GetTask claims the oldest pending task. The candidate list is a snapshot:
// when the rename loses a race against another worker the candidate is
// simply gone from the pending directory, so we treat ErrNotExist as
// "claimed elsewhere" and move on to the next oldest.
func (c *FSClient) GetTask(_ context.Context, module string) (*tasks.Task, error) {
	pendingDir := c.dir(module, tasks.StatusPending)
	entries, err := os.ReadDir(pendingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Err: err}
	}

	candidates := make([]pendingEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info: already claimed.
			continue
		}
		candidates = append(candidates, pendingEntry{id: entry.Name(), created: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].created.Equal(candidates[j].created) {
			return candidates[i].created.Before(candidates[j].created)
		}
		return candidates[i].id < candidates[j].id
	})

	if err := c.ensureDirs(module); err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		from := c.filename(module, tasks.StatusPending, cand.id)
		to := c.filename(module, tasks.StatusStarted, cand.id)
		if err := os.Rename(from, to); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &StorageError{Op: "claim", Err: err}
		}
		doc, err := c.read(module, tasks.StatusStarted, cand.id)
		if err != nil {
			return nil, err
		}
		return &tasks.Task{
			ID:        cand.id,
			Module:    module,
			Status:    tasks.StatusStarted,
			Doc:       doc,
			CreatedAt: cand.created,
		}, nil
	}
	return nil, nil
}

func (c *FSClient) StoreResult(ctx context.Context, module, id, result string) error {
	return c.store(ctx, module, id, result, tasks.StatusDone)
}

func (c *FSClient) StoreError(ctx context.Context, module, id, message string) error {
	return c.store(ctx, module, id, message, tasks.StatusError)
}

// store writes the terminal record first and clears the prior holder after,
// so a crash between the two steps leaves a duplicate rather than a loss.
func (c *FSClient) store(ctx context.Context, module, id, text string, target tasks.Status) error {
	status, err := c.Status(ctx, module, id)
	if err != nil {
		return err
	}
	if status != tasks.StatusStarted && !status.Terminal() {
		return fmt.Errorf("%w: cannot store outcome for %s/%s with status %s",
			ErrInvalidTransition, module, id, status)
	}
	if err := c.write(module, target, id, text); err != nil {
		return err
	}
	if status != target {
		if err := os.Remove(c.filename(module, status, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &StorageError{Op: "clear", Err: err}
		}
	}
	return nil
}

func (c *FSClient) Statistics(_ context.Context, module string) (map[tasks.Status]int, error) {
	stats := make(map[tasks.Status]int, len(tasks.Statuses))
	for _, status := range tasks.Statuses {
		entries, err := os.ReadDir(c.dir(module, status))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				stats[status] = 0
				continue
			}
			return nil, &StorageError{Op: "list", Err: err}
		}
		stats[status] = len(entries)
	}
	return stats, nil
}

func (c *FSClient) BulkStatus(ctx context.Context, module string, ids []string) (map[string]tasks.Status, error) {
	return bulkStatus(ctx, c, module, ids)
}

func (c *FSClient) BulkResult(ctx context.Context, module string, ids []string, format string) (map[string]TaskResult, error) {
	return bulkResult(ctx, c, module, ids, format)
}

func (c *FSClient) BulkProcess(ctx context.Context, module string, docs, ids []string, opts BulkOptions) ([]string, error) {
	return bulkProcess(ctx, c, module, docs, ids, opts)
}

// resubmit forces a task back to PENDING: write the fresh pending file, then
// clear the prior record. Rewriting an existing pending file refreshes its
// mtime, which is exactly the reordering reset_pending asks for.
func (c *FSClient) resubmit(_ context.Context, module, doc, id string, prior tasks.Status) error {
	if err := c.write(module, tasks.StatusPending, id, doc); err != nil {
		return err
	}
	if prior != tasks.StatusPending && prior != tasks.StatusUnknown {
		if err := os.Remove(c.filename(module, prior, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &StorageError{Op: "clear", Err: err}
		}
	}
	return nil
}
