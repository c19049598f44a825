// Package trading places and inspects orders through the provider adapters.
package trading

import (
	"context"
	"strings"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/pagination"
	"flint/internal/provider"
	"flint/internal/reconcile"
	"flint/internal/recovery"
	"flint/internal/services"
)

// Servicer defines the trading operations on a user's account.
type Servicer interface {
	ListOrders(ctx context.Context, userID, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error)
	PlaceOrder(ctx context.Context, userID string, req provider.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, accountID, orderID string) error
	GetOrderStatus(ctx context.Context, userID, accountID, orderID string) (*models.Order, error)
	SearchSymbols(ctx context.Context, userID, accountID, query string) ([]provider.Symbol, error)

	SearchCryptoPairs(ctx context.Context, userID, accountID, base string) ([]provider.CryptoPair, error)
	PreviewCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error)
	PlaceCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*models.Order, error)
	GetCryptoQuote(ctx context.Context, userID, accountID, pair string) (*provider.Quote, error)
}

type service struct {
	mirror services.MirrorServicer
	coord  *recovery.Coordinator
	rec    *reconcile.Reconciler
}

// NewService creates a trading Servicer.
func NewService(mirror services.MirrorServicer, coord *recovery.Coordinator, rec *reconcile.Reconciler) Servicer {
	return &service{mirror: mirror, coord: coord, rec: rec}
}

// ListOrders pages through the mirrored orders of the user's account.
func (s *service) ListOrders(ctx context.Context, userID, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error) {
	if _, err := s.mirror.GetUserAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return s.mirror.ListOrders(ctx, accountID, page)
}

// PlaceOrder submits an equity order and mirrors the result.
func (s *service) PlaceOrder(ctx context.Context, userID string, req provider.OrderRequest) (*models.Order, error) {
	if req.Quantity.Valid == req.Notional.Valid {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "exactly one of quantity or notional is required")
	}
	if isLimit(req.Type) && !req.LimitPrice.Valid {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "limit orders need a limit price")
	}
	target, trader, err := s.trader(ctx, userID, req.AccountID)
	if err != nil {
		return nil, err
	}
	placed, err := recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (*provider.Order, error) {
		return trader.PlaceOrder(ctx, creds, req)
	})
	if err != nil {
		return nil, err
	}
	logger.Get().Infow("order placed",
		"user_id", userID,
		"account_id", req.AccountID,
		"order_id", placed.ID,
		"symbol", placed.Symbol,
		"status", placed.Status,
	)
	return s.record(ctx, *placed, req.AccountID)
}

// CancelOrder cancels an open order, then refreshes its mirrored status.
func (s *service) CancelOrder(ctx context.Context, userID, accountID, orderID string) error {
	target, trader, err := s.trader(ctx, userID, accountID)
	if err != nil {
		return err
	}
	err = recovery.Exec(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) error {
		return trader.CancelOrder(ctx, creds, accountID, orderID)
	})
	if err != nil {
		return err
	}
	if _, err := s.GetOrderStatus(ctx, userID, accountID, orderID); err != nil {
		logger.Get().Warnw("order status refresh after cancel failed", "account_id", accountID, "order_id", orderID, "error", err)
	}
	return nil
}

// GetOrderStatus reads the order from the provider and mirrors it.
func (s *service) GetOrderStatus(ctx context.Context, userID, accountID, orderID string) (*models.Order, error) {
	target, trader, err := s.trader(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	order, err := recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (*provider.Order, error) {
		return trader.GetOrderStatus(ctx, creds, accountID, orderID)
	})
	if err != nil {
		return nil, err
	}
	return s.record(ctx, *order, accountID)
}

// SearchSymbols finds tradeable instruments for the account's brokerage.
func (s *service) SearchSymbols(ctx context.Context, userID, accountID, query string) ([]provider.Symbol, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "query is required")
	}
	target, trader, err := s.trader(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) ([]provider.Symbol, error) {
		return trader.SearchSymbols(ctx, creds, accountID, query)
	})
}

func (s *service) SearchCryptoPairs(ctx context.Context, userID, accountID, base string) ([]provider.CryptoPair, error) {
	target, crypto, err := s.cryptoTrader(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) ([]provider.CryptoPair, error) {
		return crypto.SearchCryptoPairs(ctx, creds, accountID, base)
	})
}

func (s *service) PreviewCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error) {
	if err := validateCrypto(req); err != nil {
		return nil, err
	}
	target, crypto, err := s.cryptoTrader(ctx, userID, req.AccountID)
	if err != nil {
		return nil, err
	}
	return recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (*provider.CryptoPreview, error) {
		return crypto.PreviewCryptoOrder(ctx, creds, req)
	})
}

// PlaceCryptoOrder submits a crypto order. The adapter addresses the
// instrument by its base currency, so "XLM-USD" trades "XLM".
func (s *service) PlaceCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*models.Order, error) {
	if err := validateCrypto(req); err != nil {
		return nil, err
	}
	target, crypto, err := s.cryptoTrader(ctx, userID, req.AccountID)
	if err != nil {
		return nil, err
	}
	placed, err := recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (*provider.Order, error) {
		return crypto.PlaceCryptoOrder(ctx, creds, req)
	})
	if err != nil {
		return nil, err
	}
	logger.Get().Infow("crypto order placed",
		"user_id", userID,
		"account_id", req.AccountID,
		"order_id", placed.ID,
		"pair", req.Pair,
	)
	return s.record(ctx, *placed, req.AccountID)
}

func (s *service) GetCryptoQuote(ctx context.Context, userID, accountID, pair string) (*provider.Quote, error) {
	if provider.BaseSymbol(pair) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "pair is required")
	}
	target, crypto, err := s.cryptoTrader(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (*provider.Quote, error) {
		return crypto.GetCryptoQuote(ctx, creds, accountID, pair)
	})
}

// record upserts the order by id. A mirror failure is logged and the
// provider's order is still returned: the trade already happened.
func (s *service) record(ctx context.Context, o provider.Order, accountID string) (*models.Order, error) {
	row := reconcile.ToOrder(o, accountID)
	if err := s.mirror.UpsertOrders(ctx, []models.Order{row}); err != nil {
		logger.Get().Errorw("failed to mirror order", "account_id", accountID, "order_id", o.ID, "error", err)
	}
	return &row, nil
}

func (s *service) target(ctx context.Context, userID, accountID string) (recovery.Target, provider.Adapter, error) {
	account, err := s.mirror.GetUserAccount(ctx, userID, accountID)
	if err != nil {
		return recovery.Target{}, nil, err
	}
	adapter, err := s.rec.Adapter(account.Provider)
	if err != nil {
		return recovery.Target{}, nil, err
	}
	return recovery.Target{Provider: account.Provider, UserID: userID, ConnectionID: account.ConnectionID}, adapter, nil
}

func (s *service) trader(ctx context.Context, userID, accountID string) (recovery.Target, provider.Trader, error) {
	t, adapter, err := s.target(ctx, userID, accountID)
	if err != nil {
		return t, nil, err
	}
	trader, ok := adapter.(provider.Trader)
	if !ok {
		return t, nil, apperrors.ErrUnsupportedOperation
	}
	return t, trader, nil
}

func (s *service) cryptoTrader(ctx context.Context, userID, accountID string) (recovery.Target, provider.CryptoTrader, error) {
	t, adapter, err := s.target(ctx, userID, accountID)
	if err != nil {
		return t, nil, err
	}
	crypto, ok := adapter.(provider.CryptoTrader)
	if !ok {
		return t, nil, apperrors.ErrUnsupportedOperation
	}
	return t, crypto, nil
}

func validateCrypto(req provider.CryptoOrderRequest) error {
	if provider.BaseSymbol(req.Pair) == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "pair is required")
	}
	if !req.Amount.IsPositive() {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be positive")
	}
	if isLimit(req.Type) && !req.LimitPrice.Valid {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "limit orders need a limit price")
	}
	return nil
}

func isLimit(orderType string) bool {
	switch strings.ToUpper(orderType) {
	case "LIMIT", "STOPLIMIT":
		return true
	}
	return false
}
