package snaptrade

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"flint/internal/cache"
	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/provider"
)

// ListOrders returns recent orders of every state.
func (c *Client) ListOrders(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Order, error) {
	return c.listOrders(ctx, creds, accountID, "all")
}

func (c *Client) listOrders(ctx context.Context, creds provider.Credentials, accountID, state string) ([]provider.Order, error) {
	var out []order
	q := url.Values{"state": {state}}
	if err := c.get(ctx, "listOrders", "/accounts/"+url.PathEscape(accountID)+"/orders", q, credsRef(creds), &out); err != nil {
		return nil, err
	}
	orders := make([]provider.Order, 0, len(out))
	for _, o := range out {
		if o.BrokerageOrderID == "" {
			continue
		}
		orders = append(orders, o.toOrder(accountID))
	}
	return orders, nil
}

type placeOrderBody struct {
	AccountID         string              `json:"account_id"`
	Action            string              `json:"action"`
	UniversalSymbolID string              `json:"universal_symbol_id,omitempty"`
	Symbol            string              `json:"symbol,omitempty"`
	OrderType         string              `json:"order_type"`
	TimeInForce       string              `json:"time_in_force"`
	Units             decimal.NullDecimal `json:"units"`
	Price             decimal.NullDecimal `json:"price"`
	Stop              decimal.NullDecimal `json:"stop"`
	NotionalValue     decimal.NullDecimal `json:"notional_value"`
}

// PlaceOrder places an equity order immediately, without a preview step.
func (c *Client) PlaceOrder(ctx context.Context, creds provider.Credentials, req provider.OrderRequest) (*provider.Order, error) {
	if req.Quantity.Valid == req.Notional.Valid {
		return nil, apperrors.NewProviderError(string(c.Name()), apperrors.CodeValidation, "exactly one of quantity or notional is required")
	}
	body := placeOrderBody{
		AccountID:         req.AccountID,
		Action:            strings.ToUpper(req.Side),
		UniversalSymbolID: req.UniversalSymbolID,
		Symbol:            strings.ToUpper(req.Symbol),
		OrderType:         req.Type,
		TimeInForce:       req.TimeInForce,
		Units:             req.Quantity,
		Price:             req.LimitPrice,
		Stop:              req.StopPrice,
		NotionalValue:     req.Notional,
	}
	var out order
	if err := c.post(ctx, "placeOrder", "/trade/place", nil, credsRef(creds), body, &out); err != nil {
		return nil, err
	}
	o := out.toOrder(req.AccountID)
	if o.Symbol == "" {
		o.Symbol = body.Symbol
	}
	return &o, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, creds provider.Credentials, accountID, orderID string) error {
	body := map[string]string{"brokerage_order_id": orderID}
	return c.post(ctx, "cancelOrder", "/accounts/"+url.PathEscape(accountID)+"/orders/cancel", nil, credsRef(creds), body, nil)
}

// GetOrderStatus finds one order. Some brokerages drop open orders from the
// "all" listing, so the open listing is scanned second.
func (c *Client) GetOrderStatus(ctx context.Context, creds provider.Credentials, accountID, orderID string) (*provider.Order, error) {
	for _, state := range []string{"all", "open"} {
		orders, err := c.listOrders(ctx, creds, accountID, state)
		if err != nil {
			return nil, err
		}
		for i := range orders {
			if orders[i].ID == orderID {
				return &orders[i], nil
			}
		}
	}
	return nil, apperrors.ErrOrderNotFound
}

// SearchSymbols finds instruments tradeable in the account. Results are cached.
func (c *Client) SearchSymbols(ctx context.Context, creds provider.Credentials, accountID, query string) ([]provider.Symbol, error) {
	query = strings.TrimSpace(query)
	key := cache.Key("snaptrade", "symbols", accountID, strings.ToLower(query))

	var symbols []provider.Symbol
	if hit, err := c.cache.Get(ctx, key, &symbols); err != nil {
		logger.Get().Warnw("Symbol cache read failed", "key", key, "error", err)
	} else if hit {
		return symbols, nil
	}

	var out []universalSymbol
	body := map[string]string{"substring": query}
	if err := c.post(ctx, "searchSymbols", "/accounts/"+url.PathEscape(accountID)+"/symbols", nil, credsRef(creds), body, &out); err != nil {
		return nil, err
	}
	symbols = make([]provider.Symbol, 0, len(out))
	for _, s := range out {
		symbols = append(symbols, s.toSymbol())
	}
	if err := c.cache.Set(ctx, key, symbols, c.cacheTTL); err != nil {
		logger.Get().Warnw("Symbol cache write failed", "key", key, "error", err)
	}
	return symbols, nil
}
