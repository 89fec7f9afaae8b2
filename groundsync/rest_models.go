// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsync

import (
	"fmt"
	"strings"
	"time"
)

// REST/JSON models for HTTP API requests and responses.
// Note: user_id is derived from the JWT sub claim, not from request bodies.

// MutationUpload is the wire representation of one queued mutation.
type MutationUpload struct {
	MutationID           string        `json:"mutation_id"`             // Client-generated UUID, idempotency key
	Kind                 string        `json:"kind"`                    // LOCATION_OF_INTEREST or SUBMISSION
	Type                 string        `json:"type"`                    // CREATE, UPDATE, DELETE
	SurveyID             string        `json:"survey_id"`               // Owning survey
	LocationOfInterestID string        `json:"loi_id,omitempty"`        // Target location of interest
	JobID                string        `json:"job_id,omitempty"`        // Owning job
	CollectionID         string        `json:"collection_id,omitempty"` // Groups mutations of one user action
	Deltas               []DeltaUpload `json:"deltas,omitempty"`        // Submission change set (null for LOI mutations)
	ClientTimestamp      time.Time     `json:"client_ts"`               // When the edit was made on-device
}

// DeltaUpload is one field-level change within a submission upload.
type DeltaUpload struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	Value     string `json:"value"`
	RemoteKey string `json:"remote_key,omitempty"` // Filled once the referenced photo has been uploaded
}

// MutationAck is the server response to a mutation upload.
type MutationAck struct {
	MutationID string `json:"mutation_id"` // Echo back the client's id
	ServerSeq  int64  `json:"server_seq"`  // Position in the server's mutation log
	Replaced   bool   `json:"replaced"`    // True when a re-send overwrote an earlier copy
}

// MediaAck is the server response to a media upload.
type MediaAck struct {
	Key           string `json:"key"`  // Remote key the blob is stored under
	Size          int64  `json:"size"` // Stored byte count
	AlreadyExists bool   `json:"already_exists,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// knownKinds and knownTypes mirror the client-side tagged variant; the
// server rejects tags it cannot match exhaustively.
var knownKinds = map[string]bool{
	"LOCATION_OF_INTEREST": true,
	"SUBMISSION":           true,
}

var knownTypes = map[string]bool{
	"CREATE": true,
	"UPDATE": true,
	"DELETE": true,
}

// Validate normalizes and checks an upload before it reaches the store.
func (u *MutationUpload) Validate() error {
	u.Kind = strings.ToUpper(strings.TrimSpace(u.Kind))
	u.Type = strings.ToUpper(strings.TrimSpace(u.Type))

	if strings.TrimSpace(u.MutationID) == "" {
		return fmt.Errorf("mutation_id is required")
	}
	if !knownKinds[u.Kind] {
		return fmt.Errorf("unknown mutation kind %q", u.Kind)
	}
	if !knownTypes[u.Type] {
		return fmt.Errorf("unknown mutation type %q", u.Type)
	}
	if strings.TrimSpace(u.SurveyID) == "" {
		return fmt.Errorf("survey_id is required")
	}
	if u.Kind == "LOCATION_OF_INTEREST" && len(u.Deltas) > 0 {
		return fmt.Errorf("location of interest mutation must not carry deltas")
	}
	for i := range u.Deltas {
		if strings.TrimSpace(u.Deltas[i].TaskID) == "" {
			return fmt.Errorf("delta %d: task_id is required", i)
		}
	}
	return nil
}
