// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package groundsqlite provides the SQLite-backed offline mutation queue for
// go-groundsync field data collection clients.
//
// Local edits are recorded as mutations, persisted durably, and drained to
// the remote store in two phases: structured data first, then any media
// attachments referenced by the mutation's deltas.
package groundsqlite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the two concrete mutation variants.
type Kind string

const (
	// KindLocationOfInterest mutates a point or area of interest on the map.
	KindLocationOfInterest Kind = "LOCATION_OF_INTEREST"
	// KindSubmission mutates a survey submission, including its task deltas.
	KindSubmission Kind = "SUBMISSION"
)

// Type is the operation a mutation replays against the remote store.
type Type string

const (
	TypeCreate Type = "CREATE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// TaskTypePhoto marks a delta whose value is a local photo name rather than
// a final task value. Other task types are opaque to the engine.
const TaskTypePhoto = "photo"

// ValueDelta is one field-level change within a submission mutation.
type ValueDelta struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	// Value carries the task value; for photo deltas it is the local photo
	// name to be resolved through the FileStore.
	Value string `json:"value"`
	// RemoteKey records where the photo landed in the remote store once
	// uploaded. Persisted so retries after a partial media failure do not
	// re-send blobs the remote already has.
	RemoteKey string `json:"remote_key,omitempty"`
}

// IsPhoto reports whether the delta references local media.
func (d *ValueDelta) IsPhoto() bool { return d.TaskType == TaskTypePhoto }

// Mutation is a queued, not-yet-confirmed local edit awaiting delivery.
// It is a tagged variant: Kind selects between the location-of-interest and
// submission shapes, with Deltas populated only for submissions.
type Mutation struct {
	ID                   string
	Kind                 Kind
	Type                 Type
	SyncStatus           SyncStatus
	SurveyID             string
	LocationOfInterestID string
	UserID               string
	JobID                string
	// CollectionID groups mutations emitted by one logical user action.
	CollectionID string
	// Deltas is the ordered change set of a submission mutation; nil for
	// location-of-interest mutations.
	Deltas []ValueDelta
	// RetryCount counts media upload attempts, for external backoff policy.
	RetryCount int
	// LastError retains the most recent delivery failure, never silently
	// dropped.
	LastError       string
	ClientTimestamp time.Time
}

// NewLocationOfInterestMutation builds a PENDING location-of-interest
// mutation with a locally generated id.
func NewLocationOfInterestMutation(t Type, surveyID, loiID, userID, jobID, collectionID string) *Mutation {
	return &Mutation{
		ID:                   uuid.NewString(),
		Kind:                 KindLocationOfInterest,
		Type:                 t,
		SyncStatus:           StatusPending,
		SurveyID:             surveyID,
		LocationOfInterestID: loiID,
		UserID:               userID,
		JobID:                jobID,
		CollectionID:         collectionID,
		ClientTimestamp:      time.Now().UTC(),
	}
}

// NewSubmissionMutation builds a PENDING submission mutation with a locally
// generated id.
func NewSubmissionMutation(t Type, surveyID, loiID, userID, jobID, collectionID string, deltas []ValueDelta) *Mutation {
	return &Mutation{
		ID:                   uuid.NewString(),
		Kind:                 KindSubmission,
		Type:                 t,
		SyncStatus:           StatusPending,
		SurveyID:             surveyID,
		LocationOfInterestID: loiID,
		UserID:               userID,
		JobID:                jobID,
		CollectionID:         collectionID,
		Deltas:               deltas,
		ClientTimestamp:      time.Now().UTC(),
	}
}

// PhotoDeltas returns the deltas that reference local media.
func (m *Mutation) PhotoDeltas() []ValueDelta {
	var photos []ValueDelta
	for _, d := range m.Deltas {
		if d.IsPhoto() {
			photos = append(photos, d)
		}
	}
	return photos
}

// HasPendingMedia reports whether the mutation must pass through the media
// upload phase after its data push. A submission with zero photo deltas
// never enters a media state.
func (m *Mutation) HasPendingMedia() bool {
	if m.Kind != KindSubmission {
		return false
	}
	return len(m.PhotoDeltas()) > 0
}

// Validate rejects malformed mutations before they reach the durable queue.
// A malformed mutation is a programming error, not a delivery failure.
func (m *Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mutation id must not be empty")
	}
	switch m.Kind {
	case KindLocationOfInterest:
		if len(m.Deltas) > 0 {
			return fmt.Errorf("location of interest mutation %s must not carry deltas", m.ID)
		}
	case KindSubmission:
		for i := range m.Deltas {
			if m.Deltas[i].TaskID == "" {
				return fmt.Errorf("submission mutation %s: delta %d has empty task id", m.ID, i)
			}
		}
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	switch m.Type {
	case TypeCreate, TypeUpdate, TypeDelete:
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
	if m.SurveyID == "" {
		return fmt.Errorf("mutation %s: survey id must not be empty", m.ID)
	}
	if m.UserID == "" {
		return fmt.Errorf("mutation %s: user id must not be empty", m.ID)
	}
	return nil
}
