package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order statuses after normalization.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusOpen      = "OPEN"
	OrderStatusPartial   = "PARTIALLY_FILLED"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusExpired   = "EXPIRED"
)

// Order mirrors a remote brokerage order. History is retained.
type Order struct {
	ID             string              `gorm:"primaryKey;size:191" json:"id"`
	AccountID      string              `gorm:"not null;index;size:191" json:"account_id"`
	Symbol         string              `gorm:"not null" json:"symbol"`
	Side           string              `gorm:"size:16" json:"side"`
	Type           string              `gorm:"size:32" json:"type"`
	TimeInForce    string              `gorm:"size:16" json:"time_in_force"`
	Quantity       decimal.Decimal     `gorm:"type:numeric(24,8);not null;default:0" json:"quantity"`
	FilledQuantity decimal.Decimal     `gorm:"type:numeric(24,8);not null;default:0" json:"filled_quantity"`
	Price          decimal.NullDecimal `gorm:"type:numeric(24,8)" json:"price"`
	Status         string              `gorm:"size:32;index" json:"status"`
	PlacedAt       time.Time           `json:"placed_at"`
	FilledAt       *time.Time          `json:"filled_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Activity is a retained account event: trade, dividend, transfer, fee.
type Activity struct {
	ID          string          `gorm:"primaryKey;size:191" json:"id"`
	AccountID   string          `gorm:"not null;index;size:191" json:"account_id"`
	Date        time.Time       `gorm:"index" json:"date"`
	Type        string          `gorm:"size:32" json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0" json:"amount"`
	Currency    string          `gorm:"size:8" json:"currency"`
	Symbol      string          `json:"symbol,omitempty"`
	Status      string          `gorm:"size:32" json:"status,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
