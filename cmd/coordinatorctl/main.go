// Command coordinatorctl is a thin client for the coordinator daemon's
// control channel: one subcommand per command the daemon registers,
// formatting results for a terminal instead of a program.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/poppobuilder/coordinator/pkg/protocol"
)

var (
	socketPath string
	authToken  string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "coordinatorctl",
		Short: "Control a running coordinator daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "control-channel socket path (defaults to the platform default)")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token, if the daemon requires auth")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-command timeout")

	root.AddCommand(daemonCmd(), projectCmd(), queueCmd(), workerCmd(), taskCmd(), healthCmd(), metricsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// call connects, issues a single command, prints its JSON result and closes
// the connection. coordinatorctl is a one-shot CLI, not a long-lived client,
// so a fresh connection per invocation keeps it simple at the cost of the
// handshake round-trip every subcommand pays.
func call(command string, args interface{}) error {
	path := socketPath
	if path == "" {
		var err error
		path, err = protocol.DefaultSocketPath()
		if err != nil {
			return fmt.Errorf("resolve socket path: %w", err)
		}
	}

	c, err := protocol.Connect(path, authToken)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.Call(ctx, command, args)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func printResult(raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		fmt.Println("ok")
		return
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return
	}
	b, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(b))
}

func runCall(command string, args interface{}) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		return call(command, args)
	}
}

// --- daemon ---

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Daemon lifecycle commands"}
	cmd.AddCommand(
		&cobra.Command{Use: "status", Short: "Show daemon status", RunE: runCall("daemon.status", nil)},
		&cobra.Command{Use: "stop", Short: "Stop the daemon", RunE: runCall("daemon.stop", nil)},
		&cobra.Command{Use: "reload", Short: "Reload configuration", RunE: runCall("daemon.reload", nil)},
	)
	return cmd
}

// --- project ---

func projectCmd() *cobra.Command {
	var (
		name          string
		path          string
		priority      int
		shareWeight   float64
		cpu           float64
		memory        int64
		maxConcurrent int
		elastic       bool
	)

	cmd := &cobra.Command{Use: "project", Short: "Manage registered projects"}

	list := &cobra.Command{Use: "list", Short: "List registered projects", RunE: runCall("project.list", nil)}

	add := &cobra.Command{
		Use:  "add <project-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error {
			return call("project.add", map[string]interface{}{
				"projectId": a[0], "name": name, "path": path, "priority": priority,
				"shareWeight": shareWeight, "cpu": cpu, "memory": memory,
				"maxConcurrent": maxConcurrent, "elastic": elastic,
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&path, "path", "", "repository path")
	add.Flags().IntVar(&priority, "priority", 0, "scheduling priority")
	add.Flags().Float64Var(&shareWeight, "share-weight", 1, "weighted-fair-share weight")
	add.Flags().Float64Var(&cpu, "cpu", 0, "CPU quota (cores)")
	add.Flags().Int64Var(&memory, "memory", 0, "memory quota (bytes)")
	add.Flags().IntVar(&maxConcurrent, "max-concurrent", 1, "max concurrent tasks")
	add.Flags().BoolVar(&elastic, "elastic", false, "allow elastic borrowing of idle quota")

	update := &cobra.Command{
		Use:  "update <project-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error {
			return call("project.update", map[string]interface{}{
				"projectId": a[0], "name": name, "path": path, "priority": priority,
				"shareWeight": shareWeight, "cpu": cpu, "memory": memory,
				"maxConcurrent": maxConcurrent, "elastic": elastic,
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "display name")
	update.Flags().StringVar(&path, "path", "", "repository path")
	update.Flags().IntVar(&priority, "priority", 0, "scheduling priority")
	update.Flags().Float64Var(&shareWeight, "share-weight", 0, "weighted-fair-share weight")
	update.Flags().Float64Var(&cpu, "cpu", 0, "CPU quota (cores)")
	update.Flags().Int64Var(&memory, "memory", 0, "memory quota (bytes)")
	update.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "max concurrent tasks")

	remove := &cobra.Command{
		Use: "remove <project-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("project.remove", map[string]string{"projectId": a[0]}) },
	}
	start := &cobra.Command{
		Use: "start <project-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("project.start", map[string]string{"projectId": a[0]}) },
	}
	stop := &cobra.Command{
		Use: "stop <project-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("project.stop", map[string]string{"projectId": a[0]}) },
	}
	restart := &cobra.Command{
		Use: "restart <project-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("project.restart", map[string]string{"projectId": a[0]}) },
	}

	cmd.AddCommand(list, add, update, remove, start, stop, restart)
	return cmd
}

// --- queue ---

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect and control the task queue"}

	clearArgs := struct{ queue string }{}
	clear := &cobra.Command{
		Use: "clear", Short: "Remove all queued tasks for a project",
		RunE: func(*cobra.Command, []string) error { return call("queue.clear", map[string]string{"queue": clearArgs.queue}) },
	}
	clear.Flags().StringVar(&clearArgs.queue, "project", "", "project id whose queue to clear")

	cmd.AddCommand(
		&cobra.Command{Use: "status", Short: "Show per-project queue status", RunE: runCall("queue.status", nil)},
		&cobra.Command{Use: "pause", Short: "Pause scheduling", RunE: runCall("queue.pause", nil)},
		&cobra.Command{Use: "resume", Short: "Resume scheduling", RunE: runCall("queue.resume", nil)},
		clear,
		&cobra.Command{Use: "stats", Short: "Show queue depth and per-project stats", RunE: runCall("queue.stats", nil)},
	)
	return cmd
}

// --- worker ---

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "Inspect and manage worker processes"}

	var count int
	scale := &cobra.Command{
		Use: "scale", Short: "Signal a target worker count",
		RunE: func(*cobra.Command, []string) error { return call("worker.scale", map[string]int{"count": count}) },
	}
	scale.Flags().IntVar(&count, "count", 0, "target worker count")

	restart := &cobra.Command{
		Use: "restart <worker-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("worker.restart", map[string]string{"workerId": a[0]}) },
	}

	cmd.AddCommand(&cobra.Command{Use: "status", Short: "List active worker processes", RunE: runCall("worker.status", nil)}, scale, restart)
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect and control individual tasks"}

	var limit, offset int
	list := &cobra.Command{
		Use: "list", Short: "List processing tasks",
		RunE: func(*cobra.Command, []string) error { return call("task.list", map[string]int{"limit": limit, "offset": offset}) },
	}
	list.Flags().IntVar(&limit, "limit", 0, "max tasks to return")
	list.Flags().IntVar(&offset, "offset", 0, "tasks to skip")

	status := &cobra.Command{
		Use: "status <task-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("task.status", map[string]string{"taskId": a[0]}) },
	}
	cancel := &cobra.Command{
		Use: "cancel <task-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("task.cancel", map[string]string{"taskId": a[0]}) },
	}
	retry := &cobra.Command{
		Use: "retry <task-id>", Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, a []string) error { return call("task.retry", map[string]string{"taskId": a[0]}) },
	}

	cmd.AddCommand(list, status, cancel, retry)
	return cmd
}

// --- health / metrics ---

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "health", Short: "Health checks"}
	cmd.AddCommand(&cobra.Command{Use: "check", Short: "Run the daemon's internal health check", RunE: runCall("health.check", nil)})
	return cmd
}

func metricsCmd() *cobra.Command {
	var metricsType, period string
	cmd := &cobra.Command{
		Use: "get", Short: "Fetch current metrics snapshot",
		RunE: func(*cobra.Command, []string) error {
			return call("metrics.get", map[string]string{"type": metricsType, "period": period})
		},
	}
	cmd.Flags().StringVar(&metricsType, "type", "", "metric category filter")
	cmd.Flags().StringVar(&period, "period", "", "aggregation period")
	wrapper := &cobra.Command{Use: "metrics", Short: "Daemon metrics"}
	wrapper.AddCommand(cmd)
	return wrapper
}
