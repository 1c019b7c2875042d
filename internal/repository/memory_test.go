package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-engine/internal/consistency"
	"story-engine/internal/models"
	"story-engine/internal/repository"
)

func TestMemoryCheckpointStore_VersionedSave(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryCheckpointStore()

	_, err := store.Load(ctx, "s1")
	require.ErrorIs(t, err, models.ErrNotFound)

	state := &models.SessionState{SessionID: "s1", UserID: "u1", CurrentBeat: 1}
	require.NoError(t, store.Save(ctx, state))
	assert.EqualValues(t, 1, state.Version)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.Version)
	assert.Equal(t, 1, loaded.CurrentBeat)

	// Устаревшая копия не может перезаписать свежий чекпоинт.
	stale := &models.SessionState{SessionID: "s1", Version: 0}
	err = store.Save(ctx, stale)
	require.ErrorIs(t, err, models.ErrCheckpointConflict)
	assert.EqualValues(t, 0, stale.Version)

	loaded.CurrentBeat = 2
	require.NoError(t, store.Save(ctx, loaded))
	assert.EqualValues(t, 2, loaded.Version)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, ok := store.Snapshot("s1")
	assert.False(t, ok)
}

func TestMemoryCheckpointStore_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryCheckpointStore()
	require.NoError(t, store.Save(ctx, &models.SessionState{SessionID: "s1"}))

	snap, ok := store.Snapshot("s1")
	require.True(t, ok)
	snap[0] = 'X'
	again, _ := store.Snapshot("s1")
	assert.NotEqual(t, snap, again)
}

func TestMemoryCreditStore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryCreditStore(25)

	balance, err := store.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, balance)

	left, err := store.Deduct(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, left)

	store.Set("u2", 1)
	left, err = store.Deduct(ctx, "u2", 2)
	require.ErrorIs(t, err, models.ErrInsufficientCredits)
	assert.Equal(t, 1, left)

	left, err = store.Refund(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 25, left)
}

func TestMemoryCreditStore_ConcurrentDeductNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryCreditStore(0)
	store.Set("u1", 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Deduct(ctx, "u1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, _ := store.Balance(ctx, "u1")
	assert.Equal(t, 0, balance)
}

func TestMemoryBibleStore_Update(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryBibleStore()
	require.NoError(t, store.Create(ctx, &models.StoryBible{ID: "b1", Genre: "scifi"}))

	updated, err := store.Update(ctx, "b1", func(b *models.StoryBible) error {
		b.StoryHistory.TotalStories++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.StoryHistory.TotalStories)
	assert.EqualValues(t, 2, updated.Version)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "b1", func(b *models.StoryBible) error {
		b.StoryHistory.TotalStories = 100
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.StoryHistory.TotalStories)

	_, err = store.Update(ctx, "missing", func(*models.StoryBible) error { return nil })
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryBibleStore_ConcurrentUpdatesSerialised(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryBibleStore()
	require.NoError(t, store.Create(ctx, &models.StoryBible{ID: "b1"}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "b1", func(b *models.StoryBible) error {
				b.StoryHistory.TotalStories++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.StoryHistory.TotalStories)
}

func TestMemorySimilarityIndex(t *testing.T) {
	ctx := context.Background()
	idx := repository.NewMemorySimilarityIndex()
	require.NoError(t, idx.Upsert(ctx, "c1", []consistency.Passage{
		{ID: "p1", Text: "Mara found the brass key under the lighthouse stairs.", Metadata: map[string]any{"chapter_number": 1}},
		{ID: "p2", Text: "The storm broke over the harbor.", Metadata: map[string]any{"chapter_number": 2}},
	}))

	matches, err := idx.Query(ctx, "c1", "brass key", 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Document, "brass key")
	assert.Less(t, matches[0].Distance, 1.0)

	matches, err = idx.Query(ctx, "c1", "the", 5, map[string]any{"chapter_number": 2})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Document, "storm")

	require.NoError(t, idx.Upsert(ctx, "c1", []consistency.Passage{{ID: "p1", Text: "replaced"}}))
	assert.Equal(t, 2, idx.Len("c1"))

	require.NoError(t, idx.DeleteCollection(ctx, "c1"))
	matches, err = idx.Query(ctx, "c1", "storm", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := repository.NewMemoryLocker()

	unlock, err := locker.Lock(ctx, "session:1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "session:1", time.Minute)
	require.ErrorIs(t, err, models.ErrLockNotAcquired)

	other, err := locker.Lock(ctx, "session:2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	again, err := locker.Lock(ctx, "session:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemoryLocker_ExpiredLeaseIsFree(t *testing.T) {
	ctx := context.Background()
	locker := repository.NewMemoryLocker()

	stale, err := locker.Lock(ctx, "k", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	fresh, err := locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Снятие устаревшей блокировки не освобождает чужую.
	require.NoError(t, stale(ctx))
	_, err = locker.Lock(ctx, "k", time.Minute)
	require.ErrorIs(t, err, models.ErrLockNotAcquired)
	require.NoError(t, fresh(ctx))
}
