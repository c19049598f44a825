package models

import (
	"time"

	"flint/internal/uuid"

	"gorm.io/gorm"
)

// Base contains common columns for locally-owned tables. Mirror tables keyed
// by provider identifiers do not embed it.
type Base struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New()
	}
	return nil
}

// Provider identifies an aggregator.
type Provider string

const (
	ProviderSnapTrade Provider = "snaptrade"
	ProviderTeller    Provider = "teller"
)

// Valid reports whether p names a supported aggregator.
func (p Provider) Valid() bool {
	return p == ProviderSnapTrade || p == ProviderTeller
}
