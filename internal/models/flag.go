package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	FlagLevelWarning = "warning"
	FlagLevelSevere  = "severe"
	FlagLevelBanned  = "banned"

	FlagStatusActive   = "active"
	FlagStatusResolved = "resolved"
)

// Flag is an administrative mark against a shop. Flags are resolved, never deleted.
type Flag struct {
	ID                 uuid.UUID  `json:"id"`
	ShopID             uuid.UUID  `json:"shop_id"`
	AdminID            uuid.UUID  `json:"admin_id"`
	Level              string     `json:"level"`
	Status             string     `json:"status"`
	RelatedComplaintID *uuid.UUID `json:"related_complaint_id,omitempty"`
	Reason             string     `json:"reason"`
	ResolutionNotes    *string    `json:"resolution_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// FlagStats summarizes flags for the daily report.
type FlagStats struct {
	Total           int            `json:"total"`
	Active          int            `json:"active"`
	ActiveByLevel   map[string]int `json:"active_by_level"`
	CreatedSince    int            `json:"created_since"`
	ResolvedSince   int            `json:"resolved_since"`
	ShopsWithActive int            `json:"shops_with_active"`
}
