// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"fmt"
	"log/slog"
)

// MediaUploadWorker drains MEDIA_UPLOAD_PENDING mutations and uploads every
// photo delta they reference (the media phase). Mutations in any other
// status are never touched.
type MediaUploadWorker struct {
	repo   *Repository
	remote RemoteStore
	files  FileStore
	logger *slog.Logger
}

// NewMediaUploadWorker returns a media-phase worker over repo, remote and
// the local file store.
func NewMediaUploadWorker(repo *Repository, remote RemoteStore, files FileStore, logger *slog.Logger) *MediaUploadWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaUploadWorker{repo: repo, remote: remote, files: files, logger: logger}
}

// Run performs a single worker invocation with the same per-mutation
// isolation rule as the sync worker: one mutation's failed uploads never
// block the rest of the batch. The returned error reports the number of
// mutations left awaiting retry.
func (w *MediaUploadWorker) Run(ctx context.Context) error {
	eligible, err := w.repo.ListByStatus(ctx, StatusMediaPending)
	if err != nil {
		return fmt.Errorf("media worker: failed to fetch media-pending mutations: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}

	w.logger.Debug("media worker starting", "pending", len(eligible))

	failed := 0
	for _, m := range eligible {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.uploadOne(ctx, m); err != nil {
			failed++
			w.logger.Warn("media upload failed", "id", m.ID, "retry_count", m.RetryCount, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("media worker: %d of %d mutations failed", failed, len(eligible))
	}
	return nil
}

// uploadOne uploads all photo deltas of a single mutation. The mutation
// succeeds as a whole only if every photo delta uploads; any missing file or
// upload failure marks the entire mutation MEDIA_UPLOAD_AWAITING_RETRY.
// Deltas that did upload keep their remote keys in the same durable write,
// so a later retry re-sends only what the remote is still missing.
func (w *MediaUploadWorker) uploadOne(ctx context.Context, m *Mutation) error {
	if err := w.repo.Transition(ctx, m.ID, StatusMediaPending, StatusMediaInProgress, ""); err != nil {
		return fmt.Errorf("failed to claim mutation: %w", err)
	}

	deltas := make([]ValueDelta, len(m.Deltas))
	copy(deltas, m.Deltas)

	// Attempt every photo delta; no delta is silently skipped. The first
	// error decides the mutation's fate but later deltas still get their
	// chance to upload and record bookkeeping.
	var firstErr error
	for i := range deltas {
		d := &deltas[i]
		if !d.IsPhoto() {
			continue
		}
		if d.RemoteKey != "" {
			continue // uploaded on a previous attempt
		}

		localPath, err := w.files.PhotoPath(d.Value)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to resolve photo %q: %w", d.Value, err)
			}
			continue
		}

		remoteKey, err := w.remote.UploadMedia(ctx, localPath, MediaKey(m.SurveyID, m.LocationOfInterestID, d.Value))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to upload photo %q: %w", d.Value, err)
			}
			continue
		}
		d.RemoteKey = remoteKey
	}

	if firstErr != nil {
		if terr := w.repo.TransitionWithDeltas(ctx, m.ID, StatusMediaInProgress,
			StatusMediaAwaitingRetry, firstErr.Error(), deltas); terr != nil {
			w.logger.Error("failed to record media upload failure", "id", m.ID, "error", terr)
		}
		return firstErr
	}

	if err := w.repo.TransitionWithDeltas(ctx, m.ID, StatusMediaInProgress, StatusCompleted, "", deltas); err != nil {
		return fmt.Errorf("failed to complete mutation after media upload: %w", err)
	}

	w.logger.Debug("media uploaded", "id", m.ID, "photos", len(m.PhotoDeltas()))
	return nil
}
