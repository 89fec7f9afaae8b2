// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSyncStatus(t *testing.T) {
	for _, s := range []SyncStatus{
		StatusPending, StatusInProgress, StatusCompleted, StatusFailed,
		StatusMediaPending, StatusMediaInProgress, StatusMediaAwaitingRetry,
	} {
		require.Equal(t, s, ParseSyncStatus(string(s)))
	}

	// Anything unrecognized fails safe
	require.Equal(t, StatusUnknown, ParseSyncStatus("UNKNOWN"))
	require.Equal(t, StatusUnknown, ParseSyncStatus(""))
	require.Equal(t, StatusUnknown, ParseSyncStatus("SHIPPED"))
}

func TestCanTransitionLegalEdges(t *testing.T) {
	legal := [][2]SyncStatus{
		{StatusPending, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusMediaPending},
		{StatusInProgress, StatusFailed},
		{StatusMediaPending, StatusMediaInProgress},
		{StatusMediaInProgress, StatusCompleted},
		{StatusMediaInProgress, StatusMediaAwaitingRetry},
	}
	for _, edge := range legal {
		require.True(t, CanTransition(edge[0], edge[1]), "%s -> %s should be legal", edge[0], edge[1])
	}
}

func TestCanTransitionRejectsEverythingElse(t *testing.T) {
	illegal := [][2]SyncStatus{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusMediaPending},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusPending}, // manual retry goes through RequeueFailed, not Transition
		{StatusMediaAwaitingRetry, StatusMediaPending}, // scheduler edge, not a worker edge
		{StatusMediaInProgress, StatusMediaPending},
		{StatusInProgress, StatusPending},
		{StatusUnknown, StatusInProgress},
		{StatusInProgress, StatusUnknown},
	}
	for _, edge := range illegal {
		require.False(t, CanTransition(edge[0], edge[1]), "%s -> %s should be illegal", edge[0], edge[1])
	}
}

func TestCheckTransitionFailsLoudly(t *testing.T) {
	err := checkTransition(StatusCompleted, StatusPending)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Contains(t, err.Error(), "COMPLETED")
	require.Contains(t, err.Error(), "PENDING")
}

func TestStatusViews(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusMediaAwaitingRetry.Terminal())

	require.True(t, StatusPending.RequiresDataSync())
	require.True(t, StatusInProgress.RequiresDataSync())
	require.True(t, StatusFailed.RequiresDataSync())
	require.False(t, StatusMediaPending.RequiresDataSync())

	require.True(t, StatusMediaPending.RequiresMediaUpload())
	require.True(t, StatusMediaInProgress.RequiresMediaUpload())
	require.True(t, StatusMediaAwaitingRetry.RequiresMediaUpload())
	require.False(t, StatusCompleted.RequiresMediaUpload())
}
