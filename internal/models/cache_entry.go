package models

import (
	"time"
)

// CacheEntry backs the database implementation of the shared cache store.
// Login challenges, pending 2FA setups, the refresh-token blacklist, and rate
// limit counters all live here when Redis is not configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
