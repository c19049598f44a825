package models

import (
	"time"

	"flint/internal/uuid"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Balance is the current balance snapshot of an account.
type Balance struct {
	AccountID   string          `gorm:"primaryKey;size:191" json:"account_id"`
	Cash        decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"cash"`
	TotalEquity decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"total_equity"`
	BuyingPower decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"buying_power"`
	Currency    string          `gorm:"size:8" json:"currency"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Position is one row of an account's holdings snapshot.
type Position struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID     string          `gorm:"not null;index;size:191" json:"account_id"`
	Symbol        string          `gorm:"not null" json:"symbol"`
	Description   string          `json:"description,omitempty"`
	Quantity      decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"quantity"`
	AvgCost       decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"avg_cost"`
	LastPrice     decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"last_price"`
	MarketValue   decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"market_value"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(24,8);not null;default:0" json:"unrealized_pnl"`
	Currency      string          `gorm:"size:8" json:"currency"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// BeforeCreate assigns a UUIDv7 surrogate key.
func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New()
	}
	return nil
}
