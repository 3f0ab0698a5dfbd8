package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskRunner spawns fire-and-forget tasks. Each task gets its own error
// handling: failures and panics are logged and swallowed, and no caller
// ever joins a task. On shutdown, outstanding tasks are drained briefly and
// then abandoned.
type TaskRunner struct {
	logger *zap.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTaskRunner creates a runner whose tasks observe cancellation through
// the context passed to them.
func NewTaskRunner(logger *zap.Logger) *TaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{logger: logger, ctx: ctx, cancel: cancel}
}

// Detach runs fn on its own goroutine. The caller never sees the outcome.
func (r *TaskRunner) Detach(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("detached task panicked", zap.String("task", name), zap.Any("panic", p))
			}
		}()
		if err := fn(r.ctx); err != nil {
			r.logger.Warn("detached task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Shutdown cancels the task context and waits up to timeout for outstanding
// tasks; whatever remains is abandoned.
func (r *TaskRunner) Shutdown(timeout time.Duration) {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("abandoning detached tasks", zap.Duration("timeout", timeout))
	}
}
