// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"errors"
	"fmt"
)

// SyncStatus tracks how far a queued mutation has progressed through the
// two-phase (data, then media) delivery pipeline.
type SyncStatus string

const (
	// StatusPending marks a mutation that has been queued locally and not
	// yet picked up by the sync worker.
	StatusPending SyncStatus = "PENDING"

	// StatusInProgress marks a mutation currently being pushed to the
	// remote store by the sync worker.
	StatusInProgress SyncStatus = "IN_PROGRESS"

	// StatusCompleted marks a fully delivered mutation (data and, where
	// present, all media). Terminal.
	StatusCompleted SyncStatus = "COMPLETED"

	// StatusFailed marks a mutation whose data push failed. Terminal for
	// the engine; failed mutations are surfaced to the caller for manual
	// retry via RequeueFailed rather than retried automatically.
	StatusFailed SyncStatus = "FAILED"

	// StatusMediaPending marks a mutation whose data was accepted by the
	// remote store but which still carries photo deltas to upload.
	StatusMediaPending SyncStatus = "MEDIA_UPLOAD_PENDING"

	// StatusMediaInProgress marks a mutation whose media is being uploaded
	// by the media worker.
	StatusMediaInProgress SyncStatus = "MEDIA_UPLOAD_IN_PROGRESS"

	// StatusMediaAwaitingRetry marks a mutation for which at least one
	// photo upload failed. Eligible for re-queueing by the scheduler.
	StatusMediaAwaitingRetry SyncStatus = "MEDIA_UPLOAD_AWAITING_RETRY"

	// StatusUnknown is the catch-all for unrecognized stored values.
	// Never produced by normal operation; both workers leave UNKNOWN
	// mutations untouched.
	StatusUnknown SyncStatus = "UNKNOWN"
)

// ErrIllegalTransition is returned when a caller attempts a sync status
// transition outside the lawful edges of the state machine. Such attempts
// indicate a programming error and are never applied.
var ErrIllegalTransition = errors.New("illegal sync status transition")

// legalEdges lists the lawful forward transitions attempted by workers.
// Scheduler-only re-queue edges (AWAITING_RETRY -> MEDIA_UPLOAD_PENDING,
// stranded IN_PROGRESS -> PENDING, FAILED -> PENDING on manual retry) are
// deliberately excluded; they are applied only through the dedicated
// Repository requeue operations.
var legalEdges = map[SyncStatus][]SyncStatus{
	StatusPending:         {StatusInProgress},
	StatusInProgress:      {StatusCompleted, StatusMediaPending, StatusFailed},
	StatusMediaPending:    {StatusMediaInProgress},
	StatusMediaInProgress: {StatusCompleted, StatusMediaAwaitingRetry},
}

// ParseSyncStatus maps a stored string to a SyncStatus. Unrecognized values
// map to StatusUnknown so that corrupt or future data fails safe instead of
// driving undefined transitions.
func ParseSyncStatus(s string) SyncStatus {
	switch SyncStatus(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed,
		StatusMediaPending, StatusMediaInProgress, StatusMediaAwaitingRetry:
		return SyncStatus(s)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no worker will move the mutation further.
func (s SyncStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RequiresDataSync reports whether the mutation still has data-phase work
// outstanding (the GetIncompleteUploads view).
func (s SyncStatus) RequiresDataSync() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusFailed
}

// RequiresMediaUpload reports whether the mutation still has media-phase
// work outstanding (the GetIncompleteMediaMutations view).
func (s SyncStatus) RequiresMediaUpload() bool {
	return s == StatusMediaPending || s == StatusMediaInProgress || s == StatusMediaAwaitingRetry
}

// CanTransition reports whether from -> to is a lawful worker edge.
func CanTransition(from, to SyncStatus) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a loud error for unlawful edges.
func checkTransition(from, to SyncStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
