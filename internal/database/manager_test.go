package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "vibepie/pkg/database"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "history.db")

	manager, err := NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func record(id, session, status string, at time.Time) *types.GenerationRecord {
	return &types.GenerationRecord{
		ID:         id,
		SessionID:  session,
		Prompt:     "加个贝斯",
		Status:     status,
		Attempts:   1,
		CodeLength: 42,
		CreatedAt:  at,
	}
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.HistoryStore = setupTestDB(t)
}

func TestManager_RecordAndReadBack(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, manager.RecordGeneration(ctx, record("g1", "s1", types.GenerationStatusApplied, base)))
	failed := record("g2", "s2", types.GenerationStatusFailed, base.Add(time.Second))
	failed.Reason = "Syntax error at line 1, column 3"
	failed.Attempts = 2
	failed.CodeLength = 0
	require.NoError(t, manager.RecordGeneration(ctx, failed))

	recent, err := manager.RecentGenerations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "g2", recent[0].ID, "newest first")
	assert.Equal(t, types.GenerationStatusFailed, recent[0].Status)
	assert.Equal(t, "Syntax error at line 1, column 3", recent[0].Reason)
	assert.Equal(t, 2, recent[0].Attempts)
	assert.Equal(t, "加个贝斯", recent[1].Prompt)
	assert.Equal(t, 42, recent[1].CodeLength)
	assert.WithinDuration(t, base, recent[1].CreatedAt, time.Millisecond)
}

func TestManager_RecentGenerationsLimit(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		rec := record(fmt.Sprintf("g%d", i), "s1", types.GenerationStatusApplied, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, manager.RecordGeneration(ctx, rec))
	}

	recent, err := manager.RecentGenerations(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "g4", recent[0].ID)
	assert.Equal(t, "g2", recent[2].ID)
}

func TestManager_EmptyLogReturnsEmptySlice(t *testing.T) {
	manager := setupTestDB(t)

	recent, err := manager.RecentGenerations(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}

func TestManager_SessionGenerationsFiltersAndLimits(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, manager.RecordGeneration(ctx, record("a2", "alice", types.GenerationStatusApplied, base.Add(2*time.Second))))
	require.NoError(t, manager.RecordGeneration(ctx, record("b1", "bob", types.GenerationStatusApplied, base.Add(time.Second))))
	require.NoError(t, manager.RecordGeneration(ctx, record("a1", "alice", types.GenerationStatusFailed, base)))

	history, err := manager.SessionGenerations(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a2", history[0].ID, "newest first")
	assert.Equal(t, "a1", history[1].ID)

	history, err = manager.SessionGenerations(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a2", history[0].ID)

	history, err = manager.SessionGenerations(ctx, "carol", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManager_RejectsRecordWithoutID(t *testing.T) {
	manager := setupTestDB(t)

	assert.Error(t, manager.RecordGeneration(context.Background(), &types.GenerationRecord{Status: types.GenerationStatusApplied}))
	assert.Error(t, manager.RecordGeneration(context.Background(), nil))
}

func TestManager_DuplicateIDFails(t *testing.T) {
	manager := setupTestDB(t)
	manager.retryDelay = time.Millisecond
	ctx := context.Background()

	require.NoError(t, manager.RecordGeneration(ctx, record("dup", "s1", types.GenerationStatusApplied, time.Now())))
	assert.Error(t, manager.RecordGeneration(ctx, record("dup", "s1", types.GenerationStatusApplied, time.Now())))
}

func TestManager_Prune(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, manager.RecordGeneration(ctx, record("old", "s1", types.GenerationStatusApplied, now.Add(-48*time.Hour))))
	require.NoError(t, manager.RecordGeneration(ctx, record("new", "s1", types.GenerationStatusApplied, now)))

	removed, err := manager.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	recent, err := manager.RecentGenerations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)
}

func TestManager_SingleWriterConcurrentRecords(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- manager.RecordGeneration(ctx, record(fmt.Sprintf("c%d", n), "s1", types.GenerationStatusApplied, time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	recent, err := manager.RecentGenerations(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 50)
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestDB(t)
	assert.NoError(t, manager.HealthCheck(context.Background()))
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "second close is a no-op")

	err := manager.RecordGeneration(context.Background(), record("late", "s1", types.GenerationStatusApplied, time.Now()))
	assert.True(t, errors.Is(err, ErrManagerClosed))
}

func TestManager_CancelledContext(t *testing.T) {
	manager := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := manager.RecordGeneration(ctx, record("x", "s1", types.GenerationStatusApplied, time.Now()))
	assert.Error(t, err)
}

func TestManager_RunRetentionStopsOnCancel(t *testing.T) {
	manager := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- manager.RunRetention(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunRetention did not stop")
	}
}
