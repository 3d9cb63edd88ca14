package main

import "time"

// Identifier types recorded on a block.
const (
	identifierTypeUser = "user_id"
	identifierTypeIP   = "ip"
)

// BlockRecord is the durable audit entry for a rate-limit block. Records are
// append-mostly: every breach inserts a new row and rows are never deleted.
// An admin override flips IsBlocked and fills the Unblocked* fields;
// everything else is immutable after insert.
type BlockRecord struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Identifier           string     `gorm:"index" json:"identifier"`
	IdentifierType       string     `json:"identifier_type"`
	RouteCategory        string     `gorm:"index" json:"route_category"`
	RoutePath            string     `json:"route_path"`
	RequestCount         int        `json:"request_count"`
	LimitThreshold       int        `json:"limit_threshold"`
	IsBlocked            bool       `gorm:"index" json:"is_blocked"`
	BlockedAt            time.Time  `json:"blocked_at"`
	BlockedUntil         time.Time  `gorm:"index" json:"blocked_until"`
	BlockDurationMinutes int        `json:"block_duration_minutes"`
	IPAddress            string     `json:"ip_address"`
	UserAgent            string     `json:"user_agent"`
	CountryCode          string     `json:"country_code,omitempty"`
	UnblockedAt          *time.Time `json:"unblocked_at,omitempty"`
	UnblockedBy          string     `json:"unblocked_by,omitempty"`
	UnblockReason        string     `json:"unblock_reason,omitempty"`
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`
}
