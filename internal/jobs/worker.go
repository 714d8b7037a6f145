package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// HandleFunc processes one job. It must be idempotent: re-processing an
// already up-to-date or already-deleted document is a harmless no-op.
type HandleFunc func(ctx context.Context, job Job) error

// Worker drains the queue, retrying failed jobs. Delivery is
// at-least-once.
type Worker struct {
	queue  *Queue
	handle HandleFunc
	logger zerolog.Logger

	poll time.Duration
}

func NewWorker(queue *Queue, handle HandleFunc, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, handle: handle, logger: logger, poll: 5 * time.Second}
}

// Run processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx, w.poll)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.poll):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// DrainOnce processes everything queued at the time of the call; a job
// requeued by a failure in this pass waits for the next one. Used by
// tests and maintenance tooling.
func (w *Worker) DrainOnce(ctx context.Context) error {
	length, err := w.queue.Len(ctx)
	if err != nil {
		return err
	}
	for i := int64(0); i < length; i++ {
		job, err := w.queue.TryDequeue(ctx)
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		w.process(ctx, job)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	if err := w.handle(ctx, job); err != nil {
		w.logger.Warn().
			Str("label", job.Label).
			Err(err).
			Msg("job failed, requeueing")
		if err := w.queue.Requeue(ctx, job); err != nil {
			w.logger.Error().
				Str("label", job.Label).
				Err(err).
				Msg("requeue failed, job lost until next change")
		}
	}
}
