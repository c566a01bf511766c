package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/store"
)

const idleSleep = 500 * time.Millisecond

// Handler processes one leased job. A returned error re-queues the job with
// backoff; nil completes it.
type Handler func(ctx context.Context, job store.Job) error

// Pool runs N workers that lease jobs from the persistent queue. Workers
// share no mutable state beyond the database.
type Pool struct {
	store       *store.Store
	workers     int
	maxAttempts int
	handlers    map[string]Handler
}

func NewPool(st *store.Store, workers, maxAttempts int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Pool{
		store:       st,
		workers:     workers,
		maxAttempts: maxAttempts,
		handlers:    make(map[string]Handler),
	}
}

// Register binds a job type to its handler. Call before Run.
func (p *Pool) Register(jobType string, handler Handler) {
	p.handlers[jobType] = handler
}

// Run blocks until the context is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	logger := common.Logger()
	types := make([]string, 0, len(p.handlers))
	for jobType := range p.handlers {
		types = append(types, jobType)
	}
	if len(types) == 0 {
		return errors.New("no job handlers registered")
	}
	logger.Info("queue: worker pool starting", "workers", p.workers, "types", types)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		group.Go(func() error {
			p.workerLoop(groupCtx, workerID, types)
			return nil
		})
	}
	return group.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string, types []string) {
	logger := common.Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info("queue: worker stopping", "worker", workerID)
			return
		default:
		}
		job, err := p.store.LeaseJob(ctx, workerID, types, time.Now())
		if errors.Is(err, store.ErrNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue: lease failed", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		p.process(ctx, workerID, job)
	}
}

func (p *Pool) process(ctx context.Context, workerID string, job store.Job) {
	logger := common.Logger()
	logger.Info("queue: job claimed", "worker", workerID, "job", job.JobID, "type", job.Type, "attempt", job.Attempts+1)
	handler := p.handlers[job.Type]
	if handler == nil {
		logger.Warn("queue: unknown job type", "job", job.JobID, "type", job.Type)
		if err := p.store.FailJob(ctx, job.JobID, "unknown job type", p.maxAttempts); err != nil {
			logger.Error("queue: fail mark failed", "job", job.JobID, "error", err)
		}
		return
	}
	err := handler(ctx, job)
	// Completion state is written even when the worker is shutting down.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Warn("queue: job failed", "worker", workerID, "job", job.JobID, "error", err)
		if failErr := p.store.FailJob(finishCtx, job.JobID, err.Error(), p.maxAttempts); failErr != nil {
			logger.Error("queue: fail mark failed", "job", job.JobID, "error", failErr)
		}
		return
	}
	if completeErr := p.store.CompleteJob(finishCtx, job.JobID); completeErr != nil {
		logger.Error("queue: complete mark failed", "job", job.JobID, "error", completeErr)
		return
	}
	logger.Info("queue: job done", "worker", workerID, "job", job.JobID)
}

// DecodePayload unmarshals a job payload into out.
func DecodePayload(job store.Job, out interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), out); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Type, err)
	}
	return nil
}
