package stitcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

func setupTestStitcher(t *testing.T, window int) (*Stitcher, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, window), store
}

func seedThread(t *testing.T, store storage.Storage, threadID string, count int) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertThread(ctx, &types.Thread{ID: threadID}))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msg := &types.Message{
			ID:        fmt.Sprintf("%s-m%d", threadID, i),
			ThreadID:  threadID,
			Ordinal:   i,
			Role:      role,
			Content:   fmt.Sprintf("turn %d of %s", i, threadID),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.InsertMessage(ctx, msg))
		ids[i] = msg.ID
	}
	return ids
}

func TestStitchMessageInteriorWindow(t *testing.T) {
	s, store := setupTestStitcher(t, 1)
	ids := seedThread(t, store, "t1", 5)

	stitched, err := s.StitchMessage(context.Background(), ids[2])
	require.NoError(t, err)

	assert.Equal(t, "t1", stitched.ThreadID)
	require.Len(t, stitched.Messages, 3)
	assert.Equal(t, ids[1], stitched.Messages[0].ID)
	assert.Equal(t, ids[2], stitched.Messages[1].ID)
	assert.Equal(t, ids[3], stitched.Messages[2].ID)
}

func TestStitchMessageClipsAtThreadEdges(t *testing.T) {
	s, store := setupTestStitcher(t, 2)
	ids := seedThread(t, store, "t1", 3)

	head, err := s.StitchMessage(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Len(t, head.Messages, 3, "window clips at the thread start")
	assert.Equal(t, ids[0], head.Messages[0].ID)

	tail, err := s.StitchMessage(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Len(t, tail.Messages, 3, "window clips at the thread end")
	assert.Equal(t, ids[2], tail.Messages[2].ID)
}

func TestStitchNeverCrossesThreads(t *testing.T) {
	s, store := setupTestStitcher(t, 3)
	seedThread(t, store, "t1", 2)
	ids := seedThread(t, store, "t2", 2)

	stitched, err := s.StitchMessage(context.Background(), ids[0])
	require.NoError(t, err)
	for _, msg := range stitched.Messages {
		assert.Equal(t, "t2", msg.ThreadID)
	}
}

func TestStitchSkipsNonMessageAndMissingHits(t *testing.T) {
	s, store := setupTestStitcher(t, 1)
	ids := seedThread(t, store, "t1", 3)

	hits := []types.FusionHit{
		{ID: ids[1], Kind: types.KindMessage},
		{ID: "card-1", Kind: types.KindSummaryCard},
		{ID: "gone", Kind: types.KindMessage},
	}
	contexts, err := s.Stitch(context.Background(), hits)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, ids[1], contexts[0].HitID)
}

func TestNewDefaultsWindow(t *testing.T) {
	s, _ := setupTestStitcher(t, 0)
	assert.Equal(t, DefaultWindow, s.Window())
}
