// Package main provides a benchmark tool for docq to measure submit and
// claim/store throughput against any backend address.
//
// Usage:
//
//	go run benchmark/main.go -addr /tmp/docq-bench -tasks 10000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
)

func main() {
	addr := flag.String("addr", "", "Queue backend address (directory, redis:// or http:// URL)")
	module := flag.String("module", "upper", "Module namespace to submit into")
	numTasks := flag.Int("tasks", 10000, "Number of tasks to submit")
	numWorkers := flag.Int("workers", 10, "Number of concurrent submitters/claimers")
	flag.Parse()

	if *addr == "" {
		fmt.Fprintln(os.Stderr, "-addr is required")
		os.Exit(2)
	}

	reg := modules.NewRegistry(modules.Upper{})
	client, err := queue.NewClient(*addr, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backend setup failed: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	fmt.Printf("docq benchmark\n")
	fmt.Printf("==============\n")
	fmt.Printf("Backend: %s\n", *addr)
	fmt.Printf("Tasks: %d, concurrency: %d\n\n", *numTasks, *numWorkers)

	// Submit phase. Documents are numbered so every id is distinct.
	fmt.Printf("Starting submit phase...\n")
	startSubmit := time.Now()

	var wg sync.WaitGroup
	var submitted atomic.Int64
	perWorker := *numTasks / *numWorkers
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				doc := fmt.Sprintf("benchmark doc %d-%d %s", workerID, j, strings.Repeat("x", 64))
				if _, err := client.Process(ctx, *module, doc, ""); err != nil {
					fmt.Fprintf(os.Stderr, "Error submitting: %v\n", err)
					return
				}
				submitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	submitTime := time.Since(startSubmit)

	fmt.Printf("Submitted %d tasks in %s\n", submitted.Load(), submitTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(submitted.Load())/submitTime.Seconds())

	// Claim phase: drain the queue, storing a dummy result for each task.
	fmt.Printf("Starting claim/store phase...\n")
	startClaim := time.Now()

	var claimed atomic.Int64
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := client.GetTask(ctx, *module)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error claiming: %v\n", err)
					return
				}
				if task == nil {
					return
				}
				if err := client.StoreResult(ctx, *module, task.ID, "done"); err != nil {
					fmt.Fprintf(os.Stderr, "Error storing: %v\n", err)
					return
				}
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	claimTime := time.Since(startClaim)

	fmt.Printf("Claimed and resolved %d tasks in %s\n", claimed.Load(), claimTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(claimed.Load())/claimTime.Seconds())

	total := submitTime + claimTime
	fmt.Printf("Total time: %s\n", total)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(claimed.Load())/total.Seconds())
}
