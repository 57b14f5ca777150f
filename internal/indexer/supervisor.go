package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one long-running unit supervised alongside the ingestion workers.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunnerTask wraps a Runner as a Task.
func RunnerTask(r *Runner) Task {
	return Task{Name: "ingest/" + string(r.cfg.Contract), Run: r.Run}
}

// Supervise runs every task concurrently. The first failure cancels the
// others and is returned.
func Supervise(ctx context.Context, logger *zap.Logger, tasks ...Task) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			logger.Info("task start", zap.String("task", task.Name))
			if err := task.Run(ctx); err != nil {
				logger.Error("task failed", zap.String("task", task.Name), zap.Error(err))
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			logger.Info("task done", zap.String("task", task.Name))
			return nil
		})
	}
	return g.Wait()
}
