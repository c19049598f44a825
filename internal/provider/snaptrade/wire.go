package snaptrade

import (
	"bytes"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flint/internal/models"
	"flint/internal/provider"
)

// flexTime accepts RFC 3339 timestamps with or without a zone, plain dates
// and null.
type flexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return nil
}

func (t flexTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type currencyRef struct {
	Code string `json:"code"`
}

type amount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type authorization struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Disabled     bool     `json:"disabled"`
	DisabledDate flexTime `json:"disabled_date"`
	CreatedDate  flexTime `json:"created_date"`
	Brokerage    struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	} `json:"brokerage"`
}

func (a authorization) toConnection() provider.Connection {
	name := a.Brokerage.DisplayName
	if name == "" {
		name = a.Brokerage.Name
	}
	if name == "" {
		name = a.Name
	}
	return provider.Connection{
		ID:         a.ID,
		BrokerName: name,
		Type:       a.Type,
		Disabled:   a.Disabled,
		DisabledAt: a.DisabledDate.ptr(),
		CreatedAt:  a.CreatedDate.Time,
	}
}

type account struct {
	ID                     string `json:"id"`
	BrokerageAuthorization string `json:"brokerage_authorization"`
	Name                   string `json:"name"`
	Number                 string `json:"number"`
	InstitutionName        string `json:"institution_name"`
	Balance                struct {
		Total *amount `json:"total"`
	} `json:"balance"`
	Meta struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"meta"`
	RawType string `json:"raw_type"`
}

func (a account) toAccount() provider.Account {
	out := provider.Account{
		ID:           a.ID,
		ConnectionID: a.BrokerageAuthorization,
		Institution:  a.InstitutionName,
		Name:         a.Name,
		NumberMasked: maskNumber(a.Number),
		Type:         strings.ToLower(a.Meta.Type),
		Subtype:      a.RawType,
		Status:       strings.ToLower(a.Meta.Status),
		Currency:     "USD",
	}
	if a.Balance.Total != nil {
		out.TotalBalance = a.Balance.Total.Amount
		if a.Balance.Total.Currency != "" {
			out.Currency = a.Balance.Total.Currency
		}
	}
	if a.BrokerageAuthorization != "" {
		out.Connection = &provider.Connection{
			ID:         a.BrokerageAuthorization,
			BrokerName: a.InstitutionName,
		}
	}
	return out
}

func maskNumber(n string) string {
	if len(n) <= 4 {
		return n
	}
	return "****" + n[len(n)-4:]
}

type balance struct {
	Currency    currencyRef     `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}

type universalSymbol struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	RawSymbol   string      `json:"raw_symbol"`
	Description string      `json:"description"`
	Currency    currencyRef `json:"currency"`
	Exchange    struct {
		Code string `json:"code"`
	} `json:"exchange"`
	Type struct {
		Code string `json:"code"`
	} `json:"type"`
}

func (s universalSymbol) toSymbol() provider.Symbol {
	return provider.Symbol{
		ID:          s.ID,
		Symbol:      s.Symbol,
		Description: s.Description,
		Exchange:    s.Exchange.Code,
		Currency:    s.Currency.Code,
		Type:        s.Type.Code,
	}
}

type position struct {
	Symbol struct {
		Symbol universalSymbol `json:"symbol"`
	} `json:"symbol"`
	Units                decimal.NullDecimal `json:"units"`
	FractionalUnits      decimal.NullDecimal `json:"fractional_units"`
	Price                decimal.Decimal     `json:"price"`
	OpenPnL              decimal.Decimal     `json:"open_pnl"`
	AveragePurchasePrice decimal.Decimal     `json:"average_purchase_price"`
}

func (p position) toPosition() provider.Position {
	qty := p.Units.Decimal
	if !p.Units.Valid && p.FractionalUnits.Valid {
		qty = p.FractionalUnits.Decimal
	}
	currency := p.Symbol.Symbol.Currency.Code
	if currency == "" {
		currency = "USD"
	}
	return provider.Position{
		Symbol:        p.Symbol.Symbol.Symbol,
		Description:   p.Symbol.Symbol.Description,
		Quantity:      qty,
		AvgCost:       p.AveragePurchasePrice,
		LastPrice:     p.Price,
		MarketValue:   qty.Mul(p.Price),
		UnrealizedPnL: p.OpenPnL,
		Currency:      currency,
	}
}

type holdings struct {
	Account   account    `json:"account"`
	Balances  []balance  `json:"balances"`
	Positions []position `json:"positions"`
}

type order struct {
	BrokerageOrderID string              `json:"brokerage_order_id"`
	Status           string              `json:"status"`
	UniversalSymbol  *universalSymbol    `json:"universal_symbol"`
	Symbol           looseString         `json:"symbol"`
	Action           string              `json:"action"`
	TotalQuantity    decimal.NullDecimal `json:"total_quantity"`
	FilledQuantity   decimal.NullDecimal `json:"filled_quantity"`
	ExecutionPrice   decimal.NullDecimal `json:"execution_price"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	TimeInForce      string              `json:"time_in_force"`
	OrderType        string              `json:"order_type"`
	TimePlaced       flexTime            `json:"time_placed"`
	TimeExecuted     flexTime            `json:"time_executed"`
	TimeUpdated      flexTime            `json:"time_updated"`
}

// looseString tolerates fields that are a string in some responses and an
// object in others; only string values are kept.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		*s = looseString(bytes.Trim(b, `"`))
	}
	return nil
}

func (o order) toOrder(accountID string) provider.Order {
	symbol := string(o.Symbol)
	if o.UniversalSymbol != nil && o.UniversalSymbol.Symbol != "" {
		symbol = o.UniversalSymbol.Symbol
	}
	price := o.ExecutionPrice
	if !price.Valid {
		price = o.LimitPrice
	}
	status := normalizeOrderStatus(o.Status)
	out := provider.Order{
		ID:             o.BrokerageOrderID,
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           strings.ToUpper(o.Action),
		Type:           o.OrderType,
		TimeInForce:    o.TimeInForce,
		Quantity:       o.TotalQuantity.Decimal,
		FilledQuantity: o.FilledQuantity.Decimal,
		Price:          price,
		Status:         status,
		PlacedAt:       o.TimePlaced.Time,
		FilledAt:       o.TimeExecuted.ptr(),
	}
	if status == models.OrderStatusCancelled {
		out.CancelledAt = o.TimeUpdated.ptr()
	}
	return out
}

// normalizeOrderStatus maps SnapTrade's order states onto the local set.
func normalizeOrderStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXECUTED", "FILLED":
		return models.OrderStatusFilled
	case "PARTIAL", "PARTIALLY_FILLED", "PARTIAL_CANCELED":
		return models.OrderStatusPartial
	case "CANCELED", "CANCELLED", "PENDING_CANCEL":
		return models.OrderStatusCancelled
	case "REJECTED", "FAILED":
		return models.OrderStatusRejected
	case "EXPIRED":
		return models.OrderStatusExpired
	case "PENDING", "QUEUED":
		return models.OrderStatusPending
	default:
		return models.OrderStatusOpen
	}
}

type activity struct {
	ID      string `json:"id"`
	Account struct {
		ID string `json:"id"`
	} `json:"account"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       currencyRef      `json:"currency"`
	Description    string           `json:"description"`
	Symbol         *universalSymbol `json:"symbol"`
	TradeDate      flexTime         `json:"trade_date"`
	SettlementDate flexTime         `json:"settlement_date"`
	Type           string           `json:"type"`
}

func (a activity) toActivity(accountID string) provider.Activity {
	out := provider.Activity{
		ID:          a.ID,
		AccountID:   accountID,
		Date:        a.TradeDate.Time,
		Type:        strings.ToLower(a.Type),
		Description: a.Description,
		Amount:      a.Amount,
		Currency:    a.Currency.Code,
	}
	if out.Date.IsZero() {
		out.Date = a.SettlementDate.Time
	}
	if a.Account.ID != "" {
		out.AccountID = a.Account.ID
	}
	if a.Symbol != nil {
		out.Symbol = a.Symbol.Symbol
	}
	return out
}
