// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/anileshwar12/go-groundsync/groundsync"
)

// ErrMediaNotFound is reported by a FileStore when a photo name does not
// resolve to a readable local file. The media worker treats it as a
// transient per-mutation failure: the file may reappear or be re-attached.
var ErrMediaNotFound = errors.New("media file not found")

// RemoteStore is the black-box remote endpoint the engine delivers to. Both
// calls are fallible, not-necessarily-idempotent RPCs; the engine tolerates
// re-sending already-applied writes.
type RemoteStore interface {
	// PushMutation replays one mutation's structured data against the
	// remote store.
	PushMutation(ctx context.Context, doc *groundsync.MutationUpload) error

	// UploadMedia uploads the file at localPath under destKey and returns
	// the remote key the blob is stored under.
	UploadMedia(ctx context.Context, localPath, destKey string) (string, error)
}

// FileStore resolves a photo delta's logical name to a local path.
type FileStore interface {
	// PhotoPath returns the local path for name, or an error wrapping
	// ErrMediaNotFound when the file is absent.
	PhotoPath(name string) (string, error)
}

// DirFileStore resolves photo names inside a single media directory.
type DirFileStore struct {
	Root string
}

// NewDirFileStore returns a FileStore rooted at dir.
func NewDirFileStore(dir string) *DirFileStore {
	return &DirFileStore{Root: dir}
}

// PhotoPath resolves name under the media root and verifies the file exists.
func (s *DirFileStore) PhotoPath(name string) (string, error) {
	p := filepath.Join(s.Root, filepath.FromSlash(name))
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrMediaNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat media file %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrMediaNotFound, name)
	}
	return p, nil
}

// MediaKey builds the destination key for a photo delta's upload.
func MediaKey(surveyID, loiID, photoName string) string {
	return path.Join("media", surveyID, loiID, photoName)
}

// NewMutationUpload converts a queued mutation to its wire representation.
func NewMutationUpload(m *Mutation) *groundsync.MutationUpload {
	doc := &groundsync.MutationUpload{
		MutationID:           m.ID,
		Kind:                 string(m.Kind),
		Type:                 string(m.Type),
		SurveyID:             m.SurveyID,
		LocationOfInterestID: m.LocationOfInterestID,
		JobID:                m.JobID,
		CollectionID:         m.CollectionID,
		ClientTimestamp:      m.ClientTimestamp,
	}
	for _, d := range m.Deltas {
		doc.Deltas = append(doc.Deltas, groundsync.DeltaUpload{
			TaskID:    d.TaskID,
			TaskType:  d.TaskType,
			Value:     d.Value,
			RemoteKey: d.RemoteKey,
		})
	}
	return doc
}
