// Package main is the docq command-line client.
//
// The first argument selects the backend by address shape (a storage
// directory, a redis:// URL, or the http:// URL of a docq service), the
// second names the module, the third the action:
//
//	docq <addr> <module> process [-id ID] <doc|->
//	docq <addr> <module> process_inline <doc|->
//	docq <addr> <module> status <id>
//	docq <addr> <module> result [-format F] <id>
//	docq <addr> <module> get_task
//	docq <addr> <module> store_result <id> <text|->
//	docq <addr> <module> store_error <id> <text|->
//	docq <addr> <module> stats
//
// A "-" document argument reads from stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/guido-cesarano/docq/pkg/config"
	"github.com/guido-cesarano/docq/pkg/logger"
	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: client <addr> <module> <action> [args]")
		os.Exit(2)
	}
	addr, module, action, rest := args[0], args[1], args[2], args[3:]

	cfg := config.Load()
	reg := modules.NewRegistry(modules.Upper{})
	client, err := queue.NewClient(addr, reg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Backend setup failed")
	}

	ctx := context.Background()
	switch action {
	case "process":
		fs := flag.NewFlagSet("process", flag.ExitOnError)
		id := fs.String("id", "", "Explicit task id")
		fs.Parse(rest)
		got, err := client.Process(ctx, module, readDoc(fs.Arg(0)), *id)
		exitOn(err)
		fmt.Println(got)

	case "process_inline":
		result, err := queue.ProcessInline(ctx, client, module, readDoc(arg(rest, 0)), cfg.PollInterval)
		exitOn(err)
		fmt.Println(result)

	case "status":
		status, err := client.Status(ctx, module, arg(rest, 0))
		exitOn(err)
		fmt.Println(status)

	case "result":
		fs := flag.NewFlagSet("result", flag.ExitOnError)
		format := fs.String("format", "", "Output format (module dependent)")
		fs.Parse(rest)
		result, err := client.Result(ctx, module, fs.Arg(0), *format)
		exitOn(err)
		fmt.Println(result)

	case "get_task":
		task, err := client.GetTask(ctx, module)
		exitOn(err)
		if task == nil {
			fmt.Fprintln(os.Stderr, "Queue empty")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, task.ID)
		fmt.Println(task.Doc)

	case "store_result":
		exitOn(client.StoreResult(ctx, module, arg(rest, 0), readDoc(arg(rest, 1))))

	case "store_error":
		exitOn(client.StoreError(ctx, module, arg(rest, 0), readDoc(arg(rest, 1))))

	case "stats":
		stats, err := client.Statistics(ctx, module)
		exitOn(err)
		for _, status := range tasks.Statuses {
			fmt.Printf("%-8s %d\n", status, stats[status])
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", action)
		os.Exit(2)
	}
}

func arg(args []string, i int) string {
	if i >= len(args) {
		fmt.Fprintln(os.Stderr, "Missing argument")
		os.Exit(2)
	}
	return args[i]
}

// readDoc returns the argument itself, or stdin's content for "-".
func readDoc(doc string) string {
	if doc != "-" {
		return doc
	}
	data, err := io.ReadAll(os.Stdin)
	exitOn(err)
	return string(data)
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
