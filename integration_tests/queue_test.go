package integration_tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires a Redis server (or cmd/redis_server) on localhost:6379.
func setupIntegrationRedis(t *testing.T) *queue.RedisClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear this module's keys for a clean state.
	keys, _ := rdb.Keys(context.Background(), "docq:integration:*").Result()
	if len(keys) > 0 {
		rdb.Del(context.Background(), keys...)
	}

	client, err := queue.NewRedisClient("localhost:6379", modules.NewRegistry(modules.Upper{}))
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	return client
}

func TestIntegrationFlow(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	id, err := client.Process(ctx, "integration", "integration doc", "")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	task, err := client.GetTask(ctx, "integration")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("Expected claim of %s, got %+v", id, task)
	}

	if err := client.StoreResult(ctx, "integration", id, "INTEGRATION DOC"); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	result, err := client.Result(ctx, "integration", id, "")
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if result != "INTEGRATION DOC" {
		t.Errorf("Unexpected result: %s", result)
	}

	stats, err := client.Statistics(ctx, "integration")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats[tasks.StatusPending] != 0 || stats[tasks.StatusDone] != 1 {
		t.Errorf("Unexpected statistics: %v", stats)
	}
}

func TestIntegrationClaimExclusive(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := client.Process(ctx, "integration", fmt.Sprintf("doc %d", i), ""); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}

	results := make(chan string, 2*n)
	var wg sync.WaitGroup
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := client.GetTask(ctx, "integration")
			if err != nil {
				t.Errorf("GetTask failed: %v", err)
				return
			}
			if task != nil {
				results <- task.ID
			}
		}()
	}
	wg.Wait()
	close(results)

	claimed := make(map[string]bool)
	for id := range results {
		if claimed[id] {
			t.Errorf("Task %s claimed twice", id)
		}
		claimed[id] = true
	}
	if len(claimed) != n {
		t.Errorf("Expected %d distinct claims, got %d", n, len(claimed))
	}
}
