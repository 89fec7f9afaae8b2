// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/anileshwar12/go-groundsync/groundsync"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A second pool connection would see a different in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, nil)
	require.NoError(t, err)
	return repo
}

// fakeRemote is an in-memory RemoteStore with per-item failure injection.
type fakeRemote struct {
	mu          sync.Mutex
	pushed      map[string]*groundsync.MutationUpload
	media       map[string][]byte
	pushErrs    map[string]error // keyed by mutation id
	uploadErrs  map[string]error // keyed by destination key
	uploadCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		pushed:     make(map[string]*groundsync.MutationUpload),
		media:      make(map[string][]byte),
		pushErrs:   make(map[string]error),
		uploadErrs: make(map[string]error),
	}
}

func (f *fakeRemote) PushMutation(_ context.Context, doc *groundsync.MutationUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pushErrs[doc.MutationID]; err != nil {
		return err
	}
	f.pushed[doc.MutationID] = doc
	return nil
}

func (f *fakeRemote) UploadMedia(_ context.Context, localPath, destKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if err := f.uploadErrs[destKey]; err != nil {
		return "", err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("fake remote: %w", err)
	}
	f.media[destKey] = data
	return destKey, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

// writePhoto drops a small photo fixture into dir and returns its name.
func writePhoto(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("jpeg-bytes"), 0o644))
	return name
}

func photoDelta(taskID, photoName string) ValueDelta {
	return ValueDelta{TaskID: taskID, TaskType: TaskTypePhoto, Value: photoName}
}

func testSubmission(deltas ...ValueDelta) *Mutation {
	return NewSubmissionMutation(TypeCreate, "survey-1", "loi-1", "user-1", "job-1", "collection-1", deltas)
}

func enqueueWithStatus(t *testing.T, repo *Repository, m *Mutation, status SyncStatus) *Mutation {
	t.Helper()
	m.SyncStatus = status
	require.NoError(t, repo.ApplyAndEnqueue(context.Background(), m))
	return m
}

func requireStatusCount(t *testing.T, repo *Repository, status SyncStatus, want int) {
	t.Helper()
	count, err := repo.CountByStatus(context.Background(), status)
	require.NoError(t, err)
	require.Equal(t, want, count, "expect %d mutations with status %s", want, status)
}
