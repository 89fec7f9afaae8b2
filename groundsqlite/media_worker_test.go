// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMediaWorker(t *testing.T, repo *Repository, remote *fakeRemote) (*MediaUploadWorker, string) {
	t.Helper()
	dir := t.TempDir()
	return NewMediaUploadWorker(repo, remote, NewDirFileStore(dir), nil), dir
}

func TestMediaWorkerSucceedsOnExistingPhoto(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, dir := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	name := writePhoto(t, dir, "photo.jpg")
	m := testSubmission(photoDelta("photo_task_id", name))
	enqueueWithStatus(t, repo, m, StatusMediaPending)

	require.NoError(t, worker.Run(ctx))

	requireStatusCount(t, repo, StatusCompleted, 1)

	stored, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, MediaKey("survey-1", "loi-1", name), stored.Deltas[0].RemoteKey)
	require.Contains(t, remote.media, stored.Deltas[0].RemoteKey)
}

func TestMediaWorkerFailsOnNonExistentPhoto(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, _ := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	m := testSubmission(photoDelta("photo_task_id", "does_not_exist.jpg"))
	enqueueWithStatus(t, repo, m, StatusMediaPending)

	require.Error(t, worker.Run(ctx))

	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 1)

	stored, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Contains(t, stored.LastError, "does_not_exist.jpg")
	require.Equal(t, 1, stored.RetryCount)
}

func TestMediaWorkerPropagatesPartialFailures(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, dir := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	good := writePhoto(t, dir, "good.jpg")
	m := testSubmission(
		photoDelta("photo_task_1", good),
		photoDelta("photo_task_2", "some/path/does_not_exist.jpg"),
	)
	enqueueWithStatus(t, repo, m, StatusMediaPending)

	require.Error(t, worker.Run(ctx))

	// One unresolvable delta fails the mutation as a whole
	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 1)
	requireStatusCount(t, repo, StatusMediaPending, 0)
	requireStatusCount(t, repo, StatusMediaInProgress, 0)
	requireStatusCount(t, repo, StatusCompleted, 0)

	// The delta that did upload keeps its remote key so a retry skips it
	stored, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Deltas[0].RemoteKey)
	require.Empty(t, stored.Deltas[1].RemoteKey)
}

func TestMediaWorkerIgnoresNonMediaMutations(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, _ := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	others := []SyncStatus{StatusPending, StatusFailed, StatusInProgress, StatusCompleted, StatusUnknown}
	for _, status := range others {
		enqueueWithStatus(t, repo, testSubmission(photoDelta("photo_task_id", "photo.jpg")), status)
	}

	require.NoError(t, worker.Run(ctx))

	for _, status := range others {
		requireStatusCount(t, repo, status, 1)
	}
	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 0)
	requireStatusCount(t, repo, StatusMediaPending, 0)
	requireStatusCount(t, repo, StatusMediaInProgress, 0)
	require.Equal(t, 0, remote.uploadCalls)
}

func TestMediaWorkerIsolatesFailuresAcrossBatch(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, dir := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	var broken *Mutation
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		m := testSubmission(photoDelta("photo_task_id", name))
		if i == 1 {
			broken = m // b.jpg is never written to disk
		} else {
			writePhoto(t, dir, name)
		}
		enqueueWithStatus(t, repo, m, StatusMediaPending)
	}

	err := worker.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 3 mutations failed")

	requireStatusCount(t, repo, StatusCompleted, 2)
	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 1)

	stored, err := repo.Get(ctx, broken.ID)
	require.NoError(t, err)
	require.Equal(t, StatusMediaAwaitingRetry, stored.SyncStatus)
}

func TestMediaWorkerSkipsAlreadyUploadedDeltas(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, _ := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	delta := photoDelta("photo_task_id", "photo.jpg")
	delta.RemoteKey = "media/survey-1/loi-1/photo.jpg" // uploaded on a previous attempt
	m := testSubmission(delta)
	enqueueWithStatus(t, repo, m, StatusMediaPending)

	require.NoError(t, worker.Run(ctx))

	requireStatusCount(t, repo, StatusCompleted, 1)
	require.Equal(t, 0, remote.uploadCalls)
}

func TestMediaWorkerCompletesNonPhotoMediaPending(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	worker, _ := newMediaWorker(t, repo, remote)
	ctx := context.Background()

	// Should not happen in normal operation, but must resolve rather than wedge
	m := testSubmission(ValueDelta{TaskID: "text_task_id", TaskType: "text", Value: "42"})
	enqueueWithStatus(t, repo, m, StatusMediaPending)

	require.NoError(t, worker.Run(ctx))
	requireStatusCount(t, repo, StatusCompleted, 1)
}

func TestTwoPhaseDeliveryScenario(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	mediaWorker, dir := newMediaWorker(t, repo, remote)
	syncWorker := NewSyncWorker(repo, remote, nil)
	ctx := context.Background()

	name := writePhoto(t, dir, "site.jpg")
	m := testSubmission(photoDelta("photo_task_id", name))
	require.NoError(t, repo.ApplyAndEnqueue(ctx, m))

	require.NoError(t, syncWorker.Run(ctx))
	requireStatusCount(t, repo, StatusMediaPending, 1)

	require.NoError(t, mediaWorker.Run(ctx))
	requireStatusCount(t, repo, StatusCompleted, 1)
}

func TestTwoPhaseDeliveryScenarioWithMissingPhoto(t *testing.T) {
	repo := newTestRepo(t)
	remote := newFakeRemote()
	mediaWorker, dir := newMediaWorker(t, repo, remote)
	syncWorker := NewSyncWorker(repo, remote, nil)
	ctx := context.Background()

	m := testSubmission(photoDelta("photo_task_id", "missing.jpg"))
	require.NoError(t, repo.ApplyAndEnqueue(ctx, m))

	require.NoError(t, syncWorker.Run(ctx))
	require.Error(t, mediaWorker.Run(ctx))
	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 1)

	// Stays put until externally re-enqueued
	require.NoError(t, mediaWorker.Run(ctx))
	requireStatusCount(t, repo, StatusMediaAwaitingRetry, 1)

	// Operator re-attaches the photo; the retry edge releases the mutation
	writePhoto(t, dir, "missing.jpg")
	n, err := repo.RequeueMediaRetries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, mediaWorker.Run(ctx))
	requireStatusCount(t, repo, StatusCompleted, 1)
}
