package teller

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
)

type account struct {
	ID           string `json:"id"`
	EnrollmentID string `json:"enrollment_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Subtype      string `json:"subtype"`
	Status       string `json:"status"`
	Currency     string `json:"currency"`
	LastFour     string `json:"last_four"`
	Institution  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"institution"`
}

func (a account) toAccount() provider.Account {
	currency := strings.ToUpper(a.Currency)
	if currency == "" {
		currency = "USD"
	}
	out := provider.Account{
		ID:           a.ID,
		ConnectionID: a.EnrollmentID,
		Institution:  a.Institution.Name,
		Name:         a.Name,
		Type:         a.Type,
		Subtype:      a.Subtype,
		Status:       a.Status,
		Currency:     currency,
	}
	if a.LastFour != "" {
		out.NumberMasked = "****" + a.LastFour
	}
	if a.EnrollmentID != "" {
		out.Connection = &provider.Connection{
			ID:         a.EnrollmentID,
			BrokerName: a.Institution.Name,
			Type:       "bank",
		}
	}
	return out
}

type balances struct {
	AccountID string              `json:"account_id"`
	Ledger    decimal.NullDecimal `json:"ledger"`
	Available decimal.NullDecimal `json:"available"`
}

type transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	Details     struct {
		Category     string `json:"category"`
		Counterparty struct {
			Name string `json:"name"`
		} `json:"counterparty"`
	} `json:"details"`
}

func (t transaction) toActivity(currency string) provider.Activity {
	date, _ := time.Parse("2006-01-02", t.Date)
	desc := t.Description
	if desc == "" {
		desc = t.Details.Counterparty.Name
	}
	return provider.Activity{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Date:        date,
		Type:        t.Type,
		Description: desc,
		Amount:      t.Amount,
		Currency:    currency,
		Status:      t.Status,
	}
}

func (c *Client) accounts(ctx context.Context, creds provider.Credentials) ([]account, error) {
	var out []account
	if err := c.call(ctx, "listAccounts", http.MethodGet, "/accounts", creds, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAccounts returns the accounts reachable with the enrollment token,
// optionally restricted to one enrollment.
func (c *Client) ListAccounts(ctx context.Context, creds provider.Credentials, enrollmentID string) ([]provider.Account, error) {
	raw, err := c.accounts(ctx, creds)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Account, 0, len(raw))
	for _, a := range raw {
		if enrollmentID != "" && a.EnrollmentID != enrollmentID {
			continue
		}
		out = append(out, a.toAccount())
	}
	return out, nil
}

// ListConnections groups the token's accounts by enrollment.
func (c *Client) ListConnections(ctx context.Context, creds provider.Credentials) ([]provider.Connection, error) {
	raw, err := c.accounts(ctx, creds)
	if err != nil {
		return nil, err
	}
	seen := map[string]provider.Connection{}
	for _, a := range raw {
		if a.EnrollmentID == "" {
			continue
		}
		if _, ok := seen[a.EnrollmentID]; ok {
			continue
		}
		seen[a.EnrollmentID] = provider.Connection{ID: a.EnrollmentID, BrokerName: a.Institution.Name, Type: "bank"}
	}
	conns := make([]provider.Connection, 0, len(seen))
	for _, conn := range seen {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns, nil
}

// GetConnection returns the enrollment when the token can still see it.
func (c *Client) GetConnection(ctx context.Context, creds provider.Credentials, id string) (*provider.Connection, error) {
	conns, err := c.ListConnections(ctx, creds)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		if conns[i].ID == id {
			return &conns[i], nil
		}
	}
	return nil, apperrors.NewProviderError(string(models.ProviderTeller), apperrors.CodeNotFound, "enrollment not found")
}

// RefreshConnection re-reads the enrollment's accounts. Teller has no
// explicit refresh call; a successful read proves the enrollment is live.
func (c *Client) RefreshConnection(ctx context.Context, creds provider.Credentials, id string) error {
	_, err := c.ListAccounts(ctx, creds, id)
	return err
}

// DisableConnection is not offered by Teller.
func (c *Client) DisableConnection(context.Context, provider.Credentials, string) error {
	return apperrors.ErrUnsupportedOperation
}

// RemoveConnection deletes every account of the enrollment, which revokes
// the access token.
func (c *Client) RemoveConnection(ctx context.Context, creds provider.Credentials, _ string) error {
	return c.call(ctx, "removeConnection", http.MethodDelete, "/accounts", creds, nil)
}

// GetBalance reads the live ledger and available balances.
func (c *Client) GetBalance(ctx context.Context, creds provider.Credentials, accountID string) (*provider.Balance, error) {
	var out balances
	if err := c.call(ctx, "getBalance", http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/balances", creds, &out); err != nil {
		return nil, err
	}
	b := &provider.Balance{Currency: "USD"}
	b.TotalEquity = out.Ledger.Decimal
	b.Cash = out.Available.Decimal
	if !out.Available.Valid {
		b.Cash = out.Ledger.Decimal
	}
	b.BuyingPower = b.Cash
	return b, nil
}

// GetPositions returns nothing: bank accounts hold no securities.
func (c *Client) GetPositions(context.Context, provider.Credentials, string) ([]provider.Position, error) {
	return []provider.Position{}, nil
}

// ListOrders returns nothing: Teller accounts do not trade.
func (c *Client) ListOrders(context.Context, provider.Credentials, string) ([]provider.Order, error) {
	return []provider.Order{}, nil
}

// ListActivities returns the account's transactions.
func (c *Client) ListActivities(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Activity, error) {
	var out []transaction
	if err := c.call(ctx, "listTransactions", http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/transactions", creds, &out); err != nil {
		return nil, err
	}
	activities := make([]provider.Activity, 0, len(out))
	for _, t := range out {
		act := t.toActivity("USD")
		if act.AccountID == "" {
			act.AccountID = accountID
		}
		activities = append(activities, act)
	}
	return activities, nil
}
