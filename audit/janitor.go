package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one maintenance task run by a Janitor.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Janitor runs jobs sequentially every interval until stopped. Jobs must be
// idempotent; a failing job is logged and does not stop the others.
type Janitor struct {
	interval time.Duration
	jobs     []Job
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor builds a stopped Janitor.
func NewJanitor(interval time.Duration, logger *slog.Logger, jobs ...Job) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{interval: interval, jobs: jobs, logger: logger}
}

// Start launches the loop. Calling Start on a running Janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(ctx, j.done)
}

// Stop cancels the loop and waits for the current round to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce executes every job once and returns the first error.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var first error
	for _, job := range j.jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := job.Run(ctx)
		if err != nil {
			j.logger.Error("janitor: job failed", "job", job.Name, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		j.logger.Debug("janitor: job done", "job", job.Name, "elapsed", time.Since(start))
	}
	return first
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.RunOnce(ctx)
		}
	}
}
