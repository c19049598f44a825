// Package provider defines the capability surface shared by the aggregator
// adapters. Each adapter pins one API version behind these interfaces.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credentials identify the remote user on a call. For SnapTrade Secret is
// the userSecret; for Teller it is the enrollment access token.
type Credentials struct {
	RemoteUserID string
	Secret       string
}

// RemoteUser is the result of registering a local user with a provider.
type RemoteUser struct {
	RemoteUserID string
	Secret       string
}

// LoginRequest asks for a hosted connection portal URL.
type LoginRequest struct {
	RedirectURI string
	// ReconnectAuthorizationID repairs that authorization instead of adding one.
	ReconnectAuthorizationID string
	Broker                   string
}

// Connection is a remote authorization (SnapTrade) or enrollment (Teller).
type Connection struct {
	ID         string
	BrokerName string
	Type       string
	Disabled   bool
	DisabledAt *time.Time
	CreatedAt  time.Time
}

// Account is one remote account. Connection carries the authorization
// metadata embedded in the account payload, when the provider sends it.
type Account struct {
	ID           string
	ConnectionID string
	Institution  string
	Name         string
	NumberMasked string
	Type         string
	Subtype      string
	Status       string
	Currency     string
	TotalBalance decimal.Decimal
	Connection   *Connection
}

// Balance is a point-in-time cash view of an account.
type Balance struct {
	Cash        decimal.Decimal
	TotalEquity decimal.Decimal
	BuyingPower decimal.Decimal
	Currency    string
}

// Position is one holding row.
type Position struct {
	Symbol        string
	Description   string
	Quantity      decimal.Decimal
	AvgCost       decimal.Decimal
	LastPrice     decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Currency      string
}

// Order is a normalized brokerage order.
type Order struct {
	ID             string
	AccountID      string
	Symbol         string
	Side           string
	Type           string
	TimeInForce    string
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Price          decimal.NullDecimal
	Status         string
	PlacedAt       time.Time
	FilledAt       *time.Time
	CancelledAt    *time.Time
}

// Activity is a dividend, trade, transfer, fee or bank transaction.
type Activity struct {
	ID          string
	AccountID   string
	Date        time.Time
	Type        string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Symbol      string
	Status      string
}

// OrderRequest places an equity order. Exactly one of Quantity or Notional is set.
type OrderRequest struct {
	AccountID         string
	Symbol            string
	UniversalSymbolID string
	Side              string
	Type              string
	TimeInForce       string
	Quantity          decimal.NullDecimal
	Notional          decimal.NullDecimal
	LimitPrice        decimal.NullDecimal
	StopPrice         decimal.NullDecimal
}

// Symbol is a tradeable instrument returned by a search.
type Symbol struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Exchange    string `json:"exchange,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Type        string `json:"type,omitempty"`
}

// CryptoPair is a tradeable crypto instrument.
type CryptoPair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// CryptoOrderRequest places or previews a crypto order. Pair may be given
// as a full pair ("XLM-USD"); adapters address the base currency only.
type CryptoOrderRequest struct {
	AccountID   string
	Pair        string
	Side        string
	Type        string
	TimeInForce string
	Amount      decimal.Decimal
	LimitPrice  decimal.NullDecimal
}

// CryptoPreview is the provider's estimate for a crypto order.
type CryptoPreview struct {
	Symbol         string          `json:"symbol"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
	EstimatedFee   decimal.Decimal `json:"estimated_fee"`
	EstimatedTotal decimal.Decimal `json:"estimated_total"`
}

// Quote is a crypto price snapshot.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Timestamp time.Time       `json:"timestamp"`
}
