package snaptrade

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"flint/internal/cache"
	"flint/internal/logger"
	"flint/internal/provider"
)

const cryptoInstrumentType = "CRYPTOCURRENCY"

type instrument struct {
	Symbol string `json:"symbol"`
	Type   string `json:"type"`
}

type cryptoOrderBody struct {
	Instrument  instrument          `json:"instrument"`
	Side        string              `json:"side"`
	Type        string              `json:"type"`
	TimeInForce string              `json:"time_in_force"`
	Amount      decimal.Decimal     `json:"amount"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
}

func newCryptoOrderBody(req provider.CryptoOrderRequest) cryptoOrderBody {
	tif := req.TimeInForce
	if tif == "" {
		tif = "GTC"
	}
	typ := req.Type
	if typ == "" {
		typ = "MARKET"
	}
	return cryptoOrderBody{
		Instrument:  instrument{Symbol: provider.BaseSymbol(req.Pair), Type: cryptoInstrumentType},
		Side:        strings.ToUpper(req.Side),
		Type:        strings.ToUpper(typ),
		TimeInForce: strings.ToUpper(tif),
		Amount:      req.Amount,
		LimitPrice:  req.LimitPrice,
	}
}

type cryptoPairList struct {
	Items []provider.CryptoPair `json:"items"`
}

// SearchCryptoPairs lists the pairs tradeable in the account, optionally
// filtered by base currency.
func (c *Client) SearchCryptoPairs(ctx context.Context, creds provider.Credentials, accountID, base string) ([]provider.CryptoPair, error) {
	q := url.Values{}
	if base != "" {
		q.Set("base", provider.BaseSymbol(base))
	}
	var out cryptoPairList
	path := "/accounts/" + url.PathEscape(accountID) + "/trading/instruments/cryptocurrencyPairs"
	if err := c.get(ctx, "searchCryptoPairs", path, q, credsRef(creds), &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []provider.CryptoPair{}
	}
	return out.Items, nil
}

type cryptoPreviewResponse struct {
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
	EstimatedFee   decimal.Decimal `json:"estimated_fee"`
	EstimatedTotal decimal.Decimal `json:"estimated_total"`
}

// PreviewCryptoOrder returns the provider's estimate for the order.
func (c *Client) PreviewCryptoOrder(ctx context.Context, creds provider.Credentials, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error) {
	body := newCryptoOrderBody(req)
	var out cryptoPreviewResponse
	path := "/accounts/" + url.PathEscape(req.AccountID) + "/trading/cryptocurrency/preview"
	if err := c.post(ctx, "previewCryptoOrder", path, nil, credsRef(creds), body, &out); err != nil {
		return nil, err
	}
	total := out.EstimatedTotal
	if total.IsZero() {
		total = out.EstimatedPrice.Mul(req.Amount).Add(out.EstimatedFee)
	}
	return &provider.CryptoPreview{
		Symbol:         body.Instrument.Symbol,
		EstimatedPrice: out.EstimatedPrice,
		EstimatedFee:   out.EstimatedFee,
		EstimatedTotal: total,
	}, nil
}

// PlaceCryptoOrder places a crypto order addressed by base currency.
func (c *Client) PlaceCryptoOrder(ctx context.Context, creds provider.Credentials, req provider.CryptoOrderRequest) (*provider.Order, error) {
	body := newCryptoOrderBody(req)
	var out order
	path := "/accounts/" + url.PathEscape(req.AccountID) + "/trading/cryptocurrency"
	if err := c.post(ctx, "placeCryptoOrder", path, nil, credsRef(creds), body, &out); err != nil {
		return nil, err
	}
	o := out.toOrder(req.AccountID)
	if o.Symbol == "" {
		o.Symbol = body.Instrument.Symbol
	}
	if o.Side == "" {
		o.Side = body.Side
	}
	return &o, nil
}

type quoteResponse struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Timestamp flexTime        `json:"timestamp"`
}

// GetCryptoQuote returns a price snapshot for the pair's base currency.
// Quotes are cached for the client's cache TTL.
func (c *Client) GetCryptoQuote(ctx context.Context, creds provider.Credentials, accountID, pair string) (*provider.Quote, error) {
	base := provider.BaseSymbol(pair)
	key := cache.Key("snaptrade", "quote", accountID, base)

	var cached provider.Quote
	if hit, err := c.cache.Get(ctx, key, &cached); err != nil {
		logger.Get().Warnw("Quote cache read failed", "key", key, "error", err)
	} else if hit {
		return &cached, nil
	}

	var out quoteResponse
	path := "/accounts/" + url.PathEscape(accountID) + "/trading/instruments/cryptocurrencyPairs/" + url.PathEscape(base) + "/quote"
	if err := c.get(ctx, "getCryptoQuote", path, nil, credsRef(creds), &out); err != nil {
		return nil, err
	}
	q := &provider.Quote{Symbol: base, Bid: out.Bid, Ask: out.Ask, Mid: out.Mid, Timestamp: out.Timestamp.Time}
	if q.Mid.IsZero() && !q.Bid.IsZero() && !q.Ask.IsZero() {
		q.Mid = q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = c.now().UTC()
	}
	if err := c.cache.Set(ctx, key, q, c.cacheTTL); err != nil {
		logger.Get().Warnw("Quote cache write failed", "key", key, "error", err)
	}
	return q, nil
}
