package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *BlockStore {
	t.Helper()
	dsn := fmt.Sprintf("file:blockstore-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&BlockRecord{}))
	return NewBlockStore(db)
}

func mustCreateBlock(t *testing.T, store *BlockStore, identifier string, category Category, now time.Time) *BlockRecord {
	t.Helper()
	record, err := store.CreateBlock(context.Background(), identifier, identifierTypeUser, category,
		21, 20, 30, blockContext{Path: "/api/auth/login", IPAddress: "203.0.113.9", UserAgent: "test-agent"}, now)
	require.NoError(t, err)
	return record
}

func TestCreateBlockComputesBlockedUntil(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	record := mustCreateBlock(t, store, "rider-7", CategoryAuth, now)
	require.True(t, record.IsBlocked)
	require.Equal(t, now.Add(30*time.Minute), record.BlockedUntil)
	require.Equal(t, 21, record.RequestCount)
	require.Equal(t, 20, record.LimitThreshold)
	require.Equal(t, "203.0.113.9", record.IPAddress)
	require.NotZero(t, record.ID)
}

func TestFindActiveBlockReturnsUnexpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	created := mustCreateBlock(t, store, "rider-7", CategoryAuth, now)

	found, err := store.FindActiveBlock(context.Background(), "rider-7", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, created.ID, found.ID)
}

func TestFindActiveBlockTreatsExpiredAsAbsent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)

	found, err := store.FindActiveBlock(context.Background(), "rider-7", now.Add(31*time.Minute))
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestFindActiveBlockIgnoresLiftedRecords(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)
	count, err := store.Unblock(context.Background(), "rider-7", "ops-1", "appealed", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Lifted but not yet expired: must not short-circuit future blocks.
	found, err := store.FindActiveBlock(context.Background(), "rider-7", now.Add(time.Minute))
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestFindActiveBlockPrefersLatestExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now.Add(-20*time.Minute))
	latest := mustCreateBlock(t, store, "rider-7", CategoryAuth, now)

	found, err := store.FindActiveBlock(context.Background(), "rider-7", now)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, latest.ID, found.ID)
}

func TestCreateBlockAppendsAuditRows(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	first := mustCreateBlock(t, store, "rider-7", CategoryAuth, now)
	second := mustCreateBlock(t, store, "rider-7", CategoryAuth, now.Add(time.Hour))
	require.NotEqual(t, first.ID, second.ID)

	var total int64
	require.NoError(t, store.db.Model(&BlockRecord{}).Count(&total).Error)
	require.Equal(t, int64(2), total)
}

func TestUnblockRecordsActorAndReason(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)

	count, err := store.Unblock(context.Background(), "rider-7", "ops-1", "customer appeal", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var record BlockRecord
	require.NoError(t, store.db.First(&record, "identifier = ?", "rider-7").Error)
	require.False(t, record.IsBlocked)
	require.Equal(t, "ops-1", record.UnblockedBy)
	require.Equal(t, "customer appeal", record.UnblockReason)
	require.NotNil(t, record.UnblockedAt)
}

func TestUnblockIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)

	count, err := store.Unblock(context.Background(), "rider-7", "ops-1", "appealed", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, err = store.Unblock(context.Background(), "rider-7", "ops-1", "appealed again", now)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUnblockLiftsAllActiveRecords(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)
	mustCreateBlock(t, store, "rider-7", CategoryPublic, now)
	mustCreateBlock(t, store, "rider-8", CategoryAuth, now)

	count, err := store.Unblock(context.Background(), "rider-7", "ops-1", "appealed", now)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	found, err := store.FindActiveBlock(context.Background(), "rider-8", now)
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestStatsCountsActiveTodayAndByCategory(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	mustCreateBlock(t, store, "rider-7", CategoryAuth, now)
	mustCreateBlock(t, store, "rider-8", CategoryPartner, now)

	// A lifted block stays in today's totals but not in the active count.
	mustCreateBlock(t, store, "rider-9", CategoryAuth, now)
	_, err := store.Unblock(context.Background(), "rider-9", "ops-1", "appealed", now)
	require.NoError(t, err)

	// Yesterday's block is active but not part of today's totals.
	old := BlockRecord{
		Identifier:    "rider-10",
		RouteCategory: string(CategoryPublic),
		IsBlocked:     true,
		BlockedAt:     now.Add(-24 * time.Hour),
		BlockedUntil:  now.Add(time.Hour),
		CreatedAt:     now.Add(-24 * time.Hour),
	}
	require.NoError(t, store.db.Create(&old).Error)

	stats, err := store.Stats(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.ActiveBlocks)
	require.Equal(t, int64(3), stats.BlocksToday)
	require.Equal(t, int64(2), stats.ByCategory["auth"])
	require.Equal(t, int64(1), stats.ByCategory["partner"])
	require.NotContains(t, stats.ByCategory, "public")
}

func TestListActiveOrdersByExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	late := mustCreateBlock(t, store, "rider-7", CategoryAuth, now.Add(10*time.Minute))
	early := mustCreateBlock(t, store, "rider-8", CategoryAuth, now)

	records, err := store.ListActive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, early.ID, records[0].ID)
	require.Equal(t, late.ID, records[1].ID)
}
