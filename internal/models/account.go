package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the local view of an account's usability.
type AccountStatus string

const (
	AccountStatusActive         AccountStatus = "active"
	AccountStatusNeedsReconnect AccountStatus = "needs_reconnect"
	AccountStatusClosed         AccountStatus = "closed"
)

// Account mirrors one remote brokerage or bank account.
type Account struct {
	ID                 string          `gorm:"primaryKey;size:191" json:"id"`
	ConnectionID       string          `gorm:"not null;index;size:191" json:"connection_id"`
	LocalUserID        string          `gorm:"not null;index;size:191" json:"local_user_id"`
	Provider           Provider        `gorm:"not null;size:32" json:"provider"`
	Institution        string          `json:"institution"`
	Name               string          `json:"name"`
	NumberMasked       string          `json:"number_masked"`
	Type               string          `json:"type"`
	Subtype            string          `json:"subtype,omitempty"`
	Status             AccountStatus   `gorm:"not null;default:active;size:32" json:"status"`
	Currency           string          `gorm:"size:8" json:"currency"`
	TotalBalance       decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"total_balance"`
	HoldingsLastSyncAt *time.Time      `json:"holdings_last_sync_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
