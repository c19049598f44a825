package reconcile

import (
	"time"

	"flint/internal/models"
	"flint/internal/provider"
)

func toAccount(a provider.Account, connID, userID string, p models.Provider) *models.Account {
	return &models.Account{
		ID:           a.ID,
		ConnectionID: connID,
		LocalUserID:  userID,
		Provider:     p,
		Institution:  a.Institution,
		Name:         a.Name,
		NumberMasked: a.NumberMasked,
		Type:         a.Type,
		Subtype:      a.Subtype,
		Status:       accountStatus(a.Status),
		Currency:     a.Currency,
		TotalBalance: a.TotalBalance,
	}
}

func accountStatus(remote string) models.AccountStatus {
	if remote == "closed" {
		return models.AccountStatusClosed
	}
	return models.AccountStatusActive
}

func toBalance(b *provider.Balance, accountID string, at time.Time) *models.Balance {
	if b == nil {
		return nil
	}
	return &models.Balance{
		AccountID:   accountID,
		Cash:        b.Cash,
		TotalEquity: b.TotalEquity,
		BuyingPower: b.BuyingPower,
		Currency:    b.Currency,
		LastUpdated: at,
	}
}

func toPosition(p provider.Position, accountID string, at time.Time) models.Position {
	return models.Position{
		AccountID:     accountID,
		Symbol:        p.Symbol,
		Description:   p.Description,
		Quantity:      p.Quantity,
		AvgCost:       p.AvgCost,
		LastPrice:     p.LastPrice,
		MarketValue:   p.MarketValue,
		UnrealizedPnL: p.UnrealizedPnL,
		Currency:      p.Currency,
		LastUpdated:   at,
	}
}

// ToOrder maps an adapter order onto its mirror row.
func ToOrder(o provider.Order, accountID string) models.Order {
	if o.AccountID != "" {
		accountID = o.AccountID
	}
	return models.Order{
		ID:             o.ID,
		AccountID:      accountID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		TimeInForce:    o.TimeInForce,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Price:          o.Price,
		Status:         o.Status,
		PlacedAt:       o.PlacedAt,
		FilledAt:       o.FilledAt,
		CancelledAt:    o.CancelledAt,
	}
}

func toActivity(a provider.Activity, accountID string) models.Activity {
	return models.Activity{
		ID:          a.ID,
		AccountID:   accountID,
		Date:        a.Date,
		Type:        a.Type,
		Description: a.Description,
		Amount:      a.Amount,
		Currency:    a.Currency,
		Symbol:      a.Symbol,
		Status:      a.Status,
	}
}
