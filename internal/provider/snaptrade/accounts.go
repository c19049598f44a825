package snaptrade

import (
	"context"
	"net/url"
	"strings"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/provider"
)

// ListAccounts returns the user's accounts, optionally restricted to one
// authorization.
func (c *Client) ListAccounts(ctx context.Context, creds provider.Credentials, authorizationID string) ([]provider.Account, error) {
	var out []account
	if err := c.get(ctx, "listAccounts", "/accounts", nil, credsRef(creds), &out); err != nil {
		return nil, err
	}
	accounts := make([]provider.Account, 0, len(out))
	for _, a := range out {
		if authorizationID != "" && a.BrokerageAuthorization != authorizationID {
			continue
		}
		accounts = append(accounts, a.toAccount())
	}
	return accounts, nil
}

// GetBalance folds the per-currency balance rows into one view. Rows in a
// currency other than the first one are ignored.
func (c *Client) GetBalance(ctx context.Context, creds provider.Credentials, accountID string) (*provider.Balance, error) {
	var out []balance
	if err := c.get(ctx, "getBalance", "/accounts/"+url.PathEscape(accountID)+"/balances", nil, credsRef(creds), &out); err != nil {
		return nil, err
	}
	return foldBalances(out), nil
}

func foldBalances(rows []balance) *provider.Balance {
	b := &provider.Balance{Currency: "USD"}
	if len(rows) == 0 {
		return b
	}
	if rows[0].Currency.Code != "" {
		b.Currency = rows[0].Currency.Code
	}
	for _, r := range rows {
		if r.Currency.Code != "" && !strings.EqualFold(r.Currency.Code, b.Currency) {
			continue
		}
		b.Cash = b.Cash.Add(r.Cash)
		b.BuyingPower = b.BuyingPower.Add(r.BuyingPower)
	}
	b.TotalEquity = b.Cash
	return b
}

// GetPositions reads positions through a chain of endpoints: the
// per-account positions call, then the user-wide holdings call filtered to
// the account, then the single-account holdings call. When every step fails
// with a non-transient error the account is treated as holding nothing.
func (c *Client) GetPositions(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Position, error) {
	log := logger.Get().With("provider", c.Name(), "account_id", accountID)
	steps := []struct {
		name string
		fn   func(context.Context, provider.Credentials, string) ([]position, error)
	}{
		{"positions", c.accountPositions},
		{"holdings", c.userHoldings},
		{"account_holdings", c.accountHoldings},
	}

	var lastErr error
	for _, step := range steps {
		rows, err := step.fn(ctx, creds, accountID)
		if err == nil {
			positions := make([]provider.Position, 0, len(rows))
			for _, p := range rows {
				if p.Symbol.Symbol.Symbol == "" {
					continue
				}
				positions = append(positions, p.toPosition())
			}
			return positions, nil
		}
		if isCredentialFailure(err) {
			return nil, err
		}
		log.Warnw("Positions lookup failed, trying next source", "source", step.name, "error", err)
		lastErr = err
	}

	pe, ok := apperrors.AsProviderError(lastErr)
	if !ok || pe.Retryable() {
		return nil, lastErr
	}
	log.Warnw("No positions source succeeded, treating account as empty", "error", lastErr)
	return []provider.Position{}, nil
}

func isCredentialFailure(err error) bool {
	pe, ok := apperrors.AsProviderError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case apperrors.CodeAuthInvalid, apperrors.CodeUserNotFound,
		apperrors.CodeConnectionDisabled, apperrors.CodeEnrollmentDisconnected:
		return true
	}
	return false
}

func (c *Client) accountPositions(ctx context.Context, creds provider.Credentials, accountID string) ([]position, error) {
	var out []position
	err := c.get(ctx, "getPositions", "/accounts/"+url.PathEscape(accountID)+"/positions", nil, credsRef(creds), &out)
	return out, err
}

func (c *Client) userHoldings(ctx context.Context, creds provider.Credentials, accountID string) ([]position, error) {
	var out []holdings
	q := url.Values{"accounts": {accountID}}
	if err := c.get(ctx, "getHoldings", "/holdings", q, credsRef(creds), &out); err != nil {
		return nil, err
	}
	var rows []position
	for _, h := range out {
		if h.Account.ID == accountID {
			rows = append(rows, h.Positions...)
		}
	}
	return rows, nil
}

func (c *Client) accountHoldings(ctx context.Context, creds provider.Credentials, accountID string) ([]position, error) {
	var out holdings
	err := c.get(ctx, "getAccountHoldings", "/accounts/"+url.PathEscape(accountID)+"/holdings", nil, credsRef(creds), &out)
	return out.Positions, err
}
