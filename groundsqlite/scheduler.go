// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerKind names a uniquely scheduled background worker.
type WorkerKind string

const (
	WorkerKindSync  WorkerKind = "mutation-sync"
	WorkerKindMedia WorkerKind = "media-upload"
)

// Worker is a single-invocation background task. Run drains whatever work
// is eligible at the time of the call and reports an error if any item in
// the batch failed to reach a success state.
type Worker interface {
	Run(ctx context.Context) error
}

// SchedulerConfig holds scheduling and retry policy knobs. The media retry
// cadence is deliberately policy, not engine behavior: callers with a
// connectivity monitor can disable the built-ins and drive
// Repository.RequeueMediaRetries themselves.
type SchedulerConfig struct {
	BackoffMin time.Duration // first delay after a failed run, e.g. 1s
	BackoffMax time.Duration // backoff cap, e.g. 60s

	// RetryMediaUploads makes a failed media run promote AWAITING_RETRY
	// mutations and reschedule itself after the backoff delay.
	RetryMediaUploads bool

	// RequeueMediaOnReconcile makes ReconcileOnStart promote AWAITING_RETRY
	// mutations left over from a previous process lifetime.
	RequeueMediaOnReconcile bool
}

// DefaultSchedulerConfig returns the expected production policy:
// exponential backoff between 1s and 60s with media retries enabled.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		BackoffMin:              1 * time.Second,
		BackoffMax:              60 * time.Second,
		RetryMediaUploads:       true,
		RequeueMediaOnReconcile: true,
	}
}

// Scheduler runs each worker kind as a named single-flight background job.
// Requesting a kind while a request is already queued coalesces into that
// request instead of stacking a second run; at most one run per kind is
// active at a time, while the two kinds run concurrently with each other.
type Scheduler struct {
	repo   *Repository
	config *SchedulerConfig
	logger *slog.Logger
	slots  map[WorkerKind]*workSlot
	wg     sync.WaitGroup
}

type workSlot struct {
	kind   WorkerKind
	worker Worker
	// requests has capacity 1: a send while a request is pending is dropped,
	// which is exactly the unique-job replace-don't-stack semantics.
	requests chan struct{}
}

// NewScheduler wires the two worker kinds into their single-flight slots.
func NewScheduler(repo *Repository, syncWorker, mediaWorker Worker, config *SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		repo:   repo,
		config: config,
		logger: logger,
		slots: map[WorkerKind]*workSlot{
			WorkerKindSync:  {kind: WorkerKindSync, worker: syncWorker, requests: make(chan struct{}, 1)},
			WorkerKindMedia: {kind: WorkerKindMedia, worker: mediaWorker, requests: make(chan struct{}, 1)},
		},
	}
}

// EnqueueSyncWorker requests a data-phase run. Fire-and-forget, idempotent,
// safe to call redundantly from any goroutine.
func (s *Scheduler) EnqueueSyncWorker() { s.enqueue(WorkerKindSync) }

// EnqueueMediaWorker requests a media-phase run. Same guarantees as
// EnqueueSyncWorker.
func (s *Scheduler) EnqueueMediaWorker() { s.enqueue(WorkerKindMedia) }

func (s *Scheduler) enqueue(kind WorkerKind) {
	slot := s.slots[kind]
	select {
	case slot.requests <- struct{}{}:
	default: // a run is already requested; coalesce
	}
}

// Start launches one goroutine per worker kind. The goroutines exit when
// ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	for _, slot := range s.slots {
		s.wg.Add(1)
		go s.runLoop(ctx, slot)
	}
}

// Wait blocks until all worker loops have exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runLoop(ctx context.Context, slot *workSlot) {
	defer s.wg.Done()

	backoff := s.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-slot.requests:
		}

		err := slot.worker.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("worker run failed", "worker", slot.kind, "error", err)

			// Data-phase failures are FAILED rows surfaced to the user, so a
			// rerun would find nothing to do; only the media kind retries.
			if slot.kind == WorkerKindMedia && s.config.RetryMediaUploads {
				if !s.sleep(ctx, backoff) {
					return
				}
				backoff = backoff * 2
				if backoff > s.config.BackoffMax {
					backoff = s.config.BackoffMax
				}
				if n, err := s.repo.RequeueMediaRetries(ctx); err != nil {
					s.logger.Error("failed to requeue media retries", "error", err)
				} else if n > 0 {
					s.enqueue(slot.kind)
				}
			}
		} else {
			backoff = s.config.BackoffMin
		}

		// A data run that routed mutations into the media phase chains the
		// media worker so attachments follow without an external trigger.
		if slot.kind == WorkerKindSync {
			if count, err := s.repo.CountByStatus(ctx, StatusMediaPending); err == nil && count > 0 {
				s.EnqueueMediaWorker()
			}
		}
	}
}

// sleep waits for d unless ctx ends first; reports whether the wait ran out.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ReconcileOnStart repairs mutations left stuck by process death or missed
// scheduling: stranded in-flight rows are rolled back to their claimable
// statuses, awaiting-retry media is optionally promoted, and a worker is
// enqueued for each kind with outstanding work. A reconciliation pass, not a
// correctness-critical path, but required for liveness.
func (s *Scheduler) ReconcileOnStart(ctx context.Context) error {
	if n, err := s.repo.RequeueStranded(ctx); err != nil {
		return fmt.Errorf("failed to requeue stranded mutations: %w", err)
	} else if n > 0 {
		s.logger.Info("requeued stranded in-flight mutations", "count", n)
	}

	if s.config.RequeueMediaOnReconcile {
		if n, err := s.repo.RequeueMediaRetries(ctx); err != nil {
			return fmt.Errorf("failed to requeue media retries: %w", err)
		} else if n > 0 {
			s.logger.Info("requeued media uploads awaiting retry", "count", n)
		}
	}

	uploads, err := s.repo.GetIncompleteUploads(ctx)
	if err != nil {
		return fmt.Errorf("failed to query incomplete uploads: %w", err)
	}
	if len(uploads) > 0 {
		s.EnqueueSyncWorker()
	}

	media, err := s.repo.GetIncompleteMediaMutations(ctx)
	if err != nil {
		return fmt.Errorf("failed to query incomplete media mutations: %w", err)
	}
	if len(media) > 0 {
		s.EnqueueMediaWorker()
	}

	return nil
}
