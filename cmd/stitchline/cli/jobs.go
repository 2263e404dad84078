package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/stitchline/stitchline/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by task name. An empty storeID targets every store.
func (c *JobsCLI) Trigger(ctx context.Context, name, storeID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskStockReconcile, "reconcile":
		return c.client.EnqueueStockReconcile(ctx, storeID)
	case jobs.TaskLowStockScan, "low-stock":
		return c.client.EnqueueLowStockScan(ctx, storeID)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// JobsOptions carries output streams for the jobs subcommands.
type JobsOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// TriggerCommand enqueues name and prints the task id.
func (c *JobsCLI) TriggerCommand(ctx context.Context, name, storeID string, opts JobsOptions) int {
	opts = opts.withDefaults()
	info, err := c.Trigger(ctx, name, storeID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

// StatsCommand prints the default queue counters as JSON.
func (c *JobsCLI) StatsCommand(_ context.Context, opts JobsOptions) int {
	opts = opts.withDefaults()
	stats, err := jobs.Stats(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: encode json: %v\n", err)
		return 1
	}
	return 0
}

func (o JobsOptions) withDefaults() JobsOptions {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}
