package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

// Redis key layout, per module:
//   docq:{module}:{state}       hash  id -> document / outcome
//   docq:{module}:pending_order zset  id scored by submission time (ns)
//
// Status is determined by which hash holds the id, mirroring the
// filesystem backend's one-directory-per-state layout.

// claimScript atomically pops the oldest pending id, moves its document
// from the pending hash to the started hash, and returns (id, doc). Ids
// left in the order set without a pending document (a cleared reset, say)
// are skipped. Running as a Lua script makes the whole selection a single
// step, so two concurrent claims can never win the same id.
var claimScript = redis.NewScript(`
	while true do
		local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
		if #ids == 0 then
			return false
		end
		local id = ids[1]
		redis.call('ZREM', KEYS[1], id)
		local doc = redis.call('HGET', KEYS[2], id)
		if doc then
			redis.call('HDEL', KEYS[2], id)
			redis.call('HSET', KEYS[3], id, doc)
			return {id, doc}
		end
	end
`)

// RedisClient implements the queue contract on Redis, for deployments where
// workers cannot share a filesystem with the producers.
type RedisClient struct {
	rdb *redis.Client
	reg *modules.Registry
}

// NewRedisClient connects to the given Redis address. addr may be a plain
// "host:port" or a "redis://" URL. The registry is only used for
// result-format conversion and may be nil.
func NewRedisClient(addr string, reg *modules.Registry) (*RedisClient, error) {
	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		var err error
		opt, err = redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis backend: %w", err)
		}
	} else {
		opt = &redis.Options{Addr: addr}
	}
	return &RedisClient{rdb: redis.NewClient(opt), reg: reg}, nil
}

func stateKey(module string, status tasks.Status) string {
	return fmt.Sprintf("docq:%s:%s", module, strings.ToLower(string(status)))
}

func orderKey(module string) string {
	return fmt.Sprintf("docq:%s:pending_order", module)
}

func (c *RedisClient) Process(ctx context.Context, module, doc, id string) (string, error) {
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
	if err := c.enqueue(ctx, module, doc, id); err != nil {
		return "", err
	}
	return id, nil
}

func (c *RedisClient) enqueue(ctx context.Context, module, doc, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, stateKey(module, tasks.StatusPending), id, doc)
	pipe.ZAdd(ctx, orderKey(module), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return &StorageError{Op: "enqueue", Err: err}
	}
	return nil
}

func (c *RedisClient) Status(ctx context.Context, module, id string) (tasks.Status, error) {
	for _, status := range tasks.Statuses {
		ok, err := c.rdb.HExists(ctx, stateKey(module, status), id).Result()
		if err != nil {
			return tasks.StatusUnknown, &StorageError{Op: "status", Err: err}
		}
		if ok {
			return status, nil
		}
	}
	return tasks.StatusUnknown, nil
}

func (c *RedisClient) Result(ctx context.Context, module, id, format string) (string, error) {
	status, err := c.Status(ctx, module, id)
	if err != nil {
		return "", err
	}
	switch status {
	case tasks.StatusDone:
		result, err := c.rdb.HGet(ctx, stateKey(module, tasks.StatusDone), id).Result()
		if err != nil {
			return "", &StorageError{Op: "result", Err: err}
		}
		if format != "" {
			return c.reg.Convert(module, result, format)
		}
		return result, nil
	case tasks.StatusError:
		msg, err := c.rdb.HGet(ctx, stateKey(module, tasks.StatusError), id).Result()
		if err != nil {
			return "", &StorageError{Op: "result", Err: err}
		}
		return "", &ProcessingError{Module: module, ID: id, Message: msg}
	case tasks.StatusUnknown:
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, module, id)
	default:
		return "", fmt.Errorf("%w: %s/%s is %s", ErrNotReady, module, id, status)
	}
}

func (c *RedisClient) GetTask(ctx context.Context, module string) (*tasks.Task, error) {
	keys := []string{
		orderKey(module),
		stateKey(module, tasks.StatusPending),
		stateKey(module, tasks.StatusStarted),
	}
	res, err := claimScript.Run(ctx, c.rdb, keys).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &StorageError{Op: "claim", Err: err}
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, &StorageError{Op: "claim", Err: fmt.Errorf("unexpected script reply %v", res)}
	}
	id, _ := pair[0].(string)
	doc, _ := pair[1].(string)
	return &tasks.Task{
		ID:     id,
		Module: module,
		Status: tasks.StatusStarted,
		Doc:    doc,
	}, nil
}

func (c *RedisClient) StoreResult(ctx context.Context, module, id, result string) error {
	return c.store(ctx, module, id, result, tasks.StatusDone)
}

func (c *RedisClient) StoreError(ctx context.Context, module, id, message string) error {
	return c.store(ctx, module, id, message, tasks.StatusError)
}

func (c *RedisClient) store(ctx context.Context, module, id, text string, target tasks.Status) error {
	status, err := c.Status(ctx, module, id)
	if err != nil {
		return err
	}
	if status != tasks.StatusStarted && !status.Terminal() {
		return fmt.Errorf("%w: cannot store outcome for %s/%s with status %s",
			ErrInvalidTransition, module, id, status)
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, stateKey(module, target), id, text)
	if status != target {
		pipe.HDel(ctx, stateKey(module, status), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &StorageError{Op: "store", Err: err}
	}
	return nil
}

func (c *RedisClient) Statistics(ctx context.Context, module string) (map[tasks.Status]int, error) {
	stats := make(map[tasks.Status]int, len(tasks.Statuses))
	for _, status := range tasks.Statuses {
		n, err := c.rdb.HLen(ctx, stateKey(module, status)).Result()
		if err != nil {
			return nil, &StorageError{Op: "stats", Err: err}
		}
		stats[status] = int(n)
	}
	return stats, nil
}

func (c *RedisClient) BulkStatus(ctx context.Context, module string, ids []string) (map[string]tasks.Status, error) {
	return bulkStatus(ctx, c, module, ids)
}

func (c *RedisClient) BulkResult(ctx context.Context, module string, ids []string, format string) (map[string]TaskResult, error) {
	return bulkResult(ctx, c, module, ids, format)
}

func (c *RedisClient) BulkProcess(ctx context.Context, module string, docs, ids []string, opts BulkOptions) ([]string, error) {
	return bulkProcess(ctx, c, module, docs, ids, opts)
}

// resubmit forces a task back to PENDING with a fresh queue position.
func (c *RedisClient) resubmit(ctx context.Context, module, doc, id string, prior tasks.Status) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, stateKey(module, tasks.StatusPending), id, doc)
	pipe.ZAdd(ctx, orderKey(module), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: id,
	})
	if prior != tasks.StatusPending && prior != tasks.StatusUnknown {
		pipe.HDel(ctx, stateKey(module, prior), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &StorageError{Op: "resubmit", Err: err}
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
