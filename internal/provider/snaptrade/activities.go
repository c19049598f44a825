package snaptrade

import (
	"context"
	"net/url"

	"flint/internal/provider"
)

// ListActivities returns dividends, trades, transfers and fees for the account.
func (c *Client) ListActivities(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Activity, error) {
	var out []activity
	q := url.Values{"accounts": {accountID}}
	if err := c.get(ctx, "listActivities", "/activities", q, credsRef(creds), &out); err != nil {
		return nil, err
	}
	activities := make([]provider.Activity, 0, len(out))
	for _, a := range out {
		if a.ID == "" {
			continue
		}
		act := a.toActivity(accountID)
		if act.AccountID != accountID {
			continue
		}
		activities = append(activities, act)
	}
	return activities, nil
}
