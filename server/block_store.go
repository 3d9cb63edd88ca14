package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BlockStore owns the durable block records. It is the single source of truth
// for "is this caller currently blocked" and is consulted on every request
// ahead of the in-memory counter.
type BlockStore struct {
	db *gorm.DB
}

func NewBlockStore(db *gorm.DB) *BlockStore {
	return &BlockStore{db: db}
}

// blockContext carries request attributes recorded on a new block for the
// audit trail.
type blockContext struct {
	Path        string
	IPAddress   string
	UserAgent   string
	CountryCode string
}

// BlockStats is the reporting snapshot served to admin tooling.
type BlockStats struct {
	ActiveBlocks int64            `json:"active_blocks"`
	BlocksToday  int64            `json:"blocks_today"`
	ByCategory   map[string]int64 `json:"by_category"`
}

// FindActiveBlock returns the current block for an identifier, or nil when
// there is none. A lifted block (is_blocked=false) or an expired one counts
// as absent; expired rows need no cleanup to stop mattering. When several
// rows are active the one expiring last wins.
func (s *BlockStore) FindActiveBlock(ctx context.Context, identifier string, now time.Time) (*BlockRecord, error) {
	var record BlockRecord
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND is_blocked = ? AND blocked_until > ?", identifier, true, now).
		Order("blocked_until desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active block: %w", err)
	}
	return &record, nil
}

// CreateBlock persists a new block record for a threshold breach. Each breach
// inserts a fresh row; prior rows for the same identifier are left untouched.
func (s *BlockStore) CreateBlock(ctx context.Context, identifier, identifierType string, category Category, requestCount, limitThreshold, blockDurationMinutes int, bctx blockContext, now time.Time) (*BlockRecord, error) {
	record := BlockRecord{
		Identifier:           identifier,
		IdentifierType:       identifierType,
		RouteCategory:        string(category),
		RoutePath:            bctx.Path,
		RequestCount:         requestCount,
		LimitThreshold:       limitThreshold,
		IsBlocked:            true,
		BlockedAt:            now,
		BlockedUntil:         now.Add(time.Duration(blockDurationMinutes) * time.Minute),
		BlockDurationMinutes: blockDurationMinutes,
		IPAddress:            bctx.IPAddress,
		UserAgent:            bctx.UserAgent,
		CountryCode:          bctx.CountryCode,
		CreatedAt:            now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	return &record, nil
}

// Unblock lifts every currently-active block for an identifier, recording who
// did it and why. Returns the number of rows updated; zero when nothing was
// active, which is not an error.
func (s *BlockStore) Unblock(ctx context.Context, identifier, adminID, reason string, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("identifier = ? AND is_blocked = ? AND blocked_until > ?", identifier, true, now).
		Updates(map[string]interface{}{
			"is_blocked":     false,
			"unblocked_at":   now,
			"unblocked_by":   adminID,
			"unblock_reason": reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("unblock: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats reports active blocks, blocks created since local midnight, and
// today's per-category breakdown.
func (s *BlockStore) Stats(ctx context.Context, now time.Time) (BlockStats, error) {
	stats := BlockStats{ByCategory: make(map[string]int64)}

	if err := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("is_blocked = ? AND blocked_until > ?", true, now).
		Count(&stats.ActiveBlocks).Error; err != nil {
		return BlockStats{}, fmt.Errorf("count active blocks: %w", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("created_at >= ?", midnight).
		Count(&stats.BlocksToday).Error; err != nil {
		return BlockStats{}, fmt.Errorf("count blocks today: %w", err)
	}

	type categoryCount struct {
		RouteCategory string
		Count         int64
	}
	var rows []categoryCount
	if err := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Select("route_category, count(*) as count").
		Where("created_at >= ?", midnight).
		Group("route_category").
		Find(&rows).Error; err != nil {
		return BlockStats{}, fmt.Errorf("count blocks by category: %w", err)
	}
	for _, row := range rows {
		stats.ByCategory[row.RouteCategory] = row.Count
	}

	return stats, nil
}

// ListActive returns every active, unexpired block ordered by expiry.
func (s *BlockStore) ListActive(ctx context.Context, now time.Time) ([]BlockRecord, error) {
	var records []BlockRecord
	if err := s.db.WithContext(ctx).
		Where("is_blocked = ? AND blocked_until > ?", true, now).
		Order("blocked_until asc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list active blocks: %w", err)
	}
	return records, nil
}
