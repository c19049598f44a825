package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/pagination"
	"flint/internal/provider"
	"flint/internal/trading"
)

// --- mock trading service ---

type mockTradingService struct {
	listOrdersFn         func(ctx context.Context, userID, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error)
	placeOrderFn         func(ctx context.Context, userID string, req provider.OrderRequest) (*models.Order, error)
	cancelOrderFn        func(ctx context.Context, userID, accountID, orderID string) error
	getOrderStatusFn     func(ctx context.Context, userID, accountID, orderID string) (*models.Order, error)
	searchSymbolsFn      func(ctx context.Context, userID, accountID, query string) ([]provider.Symbol, error)
	searchCryptoPairsFn  func(ctx context.Context, userID, accountID, base string) ([]provider.CryptoPair, error)
	previewCryptoOrderFn func(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error)
	placeCryptoOrderFn   func(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*models.Order, error)
	getCryptoQuoteFn     func(ctx context.Context, userID, accountID, pair string) (*provider.Quote, error)
}

func (m *mockTradingService) ListOrders(ctx context.Context, userID, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error) {
	if m.listOrdersFn != nil {
		return m.listOrdersFn(ctx, userID, accountID, page)
	}
	resp := pagination.NewPageResponse([]models.Order{}, page.Page, page.PageSize, 0)
	return &resp, nil
}

func (m *mockTradingService) PlaceOrder(ctx context.Context, userID string, req provider.OrderRequest) (*models.Order, error) {
	if m.placeOrderFn != nil {
		return m.placeOrderFn(ctx, userID, req)
	}
	return &models.Order{ID: "ord-1", AccountID: req.AccountID}, nil
}

func (m *mockTradingService) CancelOrder(ctx context.Context, userID, accountID, orderID string) error {
	if m.cancelOrderFn != nil {
		return m.cancelOrderFn(ctx, userID, accountID, orderID)
	}
	return nil
}

func (m *mockTradingService) GetOrderStatus(ctx context.Context, userID, accountID, orderID string) (*models.Order, error) {
	if m.getOrderStatusFn != nil {
		return m.getOrderStatusFn(ctx, userID, accountID, orderID)
	}
	return &models.Order{ID: orderID, AccountID: accountID}, nil
}

func (m *mockTradingService) SearchSymbols(ctx context.Context, userID, accountID, query string) ([]provider.Symbol, error) {
	if m.searchSymbolsFn != nil {
		return m.searchSymbolsFn(ctx, userID, accountID, query)
	}
	return []provider.Symbol{}, nil
}

func (m *mockTradingService) SearchCryptoPairs(ctx context.Context, userID, accountID, base string) ([]provider.CryptoPair, error) {
	if m.searchCryptoPairsFn != nil {
		return m.searchCryptoPairsFn(ctx, userID, accountID, base)
	}
	return []provider.CryptoPair{}, nil
}

func (m *mockTradingService) PreviewCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error) {
	if m.previewCryptoOrderFn != nil {
		return m.previewCryptoOrderFn(ctx, userID, req)
	}
	return &provider.CryptoPreview{Symbol: req.Pair}, nil
}

func (m *mockTradingService) PlaceCryptoOrder(ctx context.Context, userID string, req provider.CryptoOrderRequest) (*models.Order, error) {
	if m.placeCryptoOrderFn != nil {
		return m.placeCryptoOrderFn(ctx, userID, req)
	}
	return &models.Order{ID: "crypto-1", AccountID: req.AccountID}, nil
}

func (m *mockTradingService) GetCryptoQuote(ctx context.Context, userID, accountID, pair string) (*provider.Quote, error) {
	if m.getCryptoQuoteFn != nil {
		return m.getCryptoQuoteFn(ctx, userID, accountID, pair)
	}
	return &provider.Quote{Symbol: pair}, nil
}

// verify interface compliance
var _ trading.Servicer = (*mockTradingService)(nil)

func setupTradingRouter(handler *TradingHandler) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUserID("u1"))
	auth.GET("/accounts/:id/orders", handler.ListOrders)
	auth.POST("/accounts/:id/orders", handler.PlaceOrder)
	auth.GET("/accounts/:id/orders/:orderId", handler.GetOrder)
	auth.DELETE("/accounts/:id/orders/:orderId", handler.CancelOrder)
	auth.GET("/accounts/:id/symbols", handler.SearchSymbols)
	auth.GET("/accounts/:id/crypto/pairs", handler.SearchCryptoPairs)
	auth.POST("/accounts/:id/crypto/orders/preview", handler.PreviewCryptoOrder)
	auth.POST("/accounts/:id/crypto/orders", handler.PlaceCryptoOrder)
	auth.GET("/accounts/:id/crypto/quote", handler.GetCryptoQuote)
	return r
}

func TestTradingHandler_PlaceOrder(t *testing.T) {
	t.Run("returns 201 and maps the request", func(t *testing.T) {
		var got provider.OrderRequest
		svc := &mockTradingService{
			placeOrderFn: func(_ context.Context, _ string, req provider.OrderRequest) (*models.Order, error) {
				got = req
				return &models.Order{ID: "ord-1", AccountID: req.AccountID, Symbol: req.Symbol}, nil
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "POST", "/accounts/acc-1/orders",
			`{"symbol":"AAPL","side":"BUY","type":"Limit","time_in_force":"Day","quantity":"2","limit_price":150.5}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.AccountID != "acc-1" || got.Symbol != "AAPL" {
			t.Errorf("unexpected request: %+v", got)
		}
		if !got.Quantity.Valid || !got.Quantity.Decimal.Equal(decimal.NewFromInt(2)) {
			t.Errorf("expected quantity 2, got %v", got.Quantity)
		}
		if got.Notional.Valid {
			t.Errorf("expected no notional")
		}
		if !got.LimitPrice.Decimal.Equal(decimal.RequireFromString("150.5")) {
			t.Errorf("expected limit 150.5, got %v", got.LimitPrice)
		}
	})

	t.Run("returns 400 on invalid side", func(t *testing.T) {
		r := setupTradingRouter(NewTradingHandler(&mockTradingService{}))

		rec := doRequest(r, "POST", "/accounts/acc-1/orders", `{"symbol":"AAPL","side":"HOLD","type":"Market","quantity":1}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INVALID_INPUT")
	})

	t.Run("returns 400 without symbol", func(t *testing.T) {
		r := setupTradingRouter(NewTradingHandler(&mockTradingService{}))

		rec := doRequest(r, "POST", "/accounts/acc-1/orders", `{"side":"BUY","type":"Market","quantity":1}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("surfaces service validation", func(t *testing.T) {
		svc := &mockTradingService{
			placeOrderFn: func(context.Context, string, provider.OrderRequest) (*models.Order, error) {
				return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "exactly one of quantity or notional is required")
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "POST", "/accounts/acc-1/orders", `{"symbol":"AAPL","side":"BUY","type":"Market"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("returns 404 for a foreign account", func(t *testing.T) {
		svc := &mockTradingService{
			placeOrderFn: func(context.Context, string, provider.OrderRequest) (*models.Order, error) {
				return nil, apperrors.ErrAccountNotFound
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "POST", "/accounts/other/orders", `{"symbol":"AAPL","side":"BUY","type":"Market","quantity":1}`)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "ACCOUNT_NOT_FOUND")
	})
}

func TestTradingHandler_Orders(t *testing.T) {
	t.Run("lists with pagination", func(t *testing.T) {
		var gotPage pagination.PageRequest
		svc := &mockTradingService{
			listOrdersFn: func(_ context.Context, _, _ string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error) {
				gotPage = page
				resp := pagination.NewPageResponse([]models.Order{{ID: "o1"}}, page.Page, page.PageSize, 1)
				return &resp, nil
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "GET", "/accounts/acc-1/orders?page=2&page_size=5", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if gotPage.Page != 2 || gotPage.PageSize != 5 {
			t.Errorf("unexpected page: %+v", gotPage)
		}
	})

	t.Run("cancel returns 204", func(t *testing.T) {
		var gotOrder string
		svc := &mockTradingService{
			cancelOrderFn: func(_ context.Context, _, _, orderID string) error {
				gotOrder = orderID
				return nil
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "DELETE", "/accounts/acc-1/orders/ord-9", "")

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if gotOrder != "ord-9" {
			t.Errorf("expected ord-9, got %q", gotOrder)
		}
	})

	t.Run("status returns order", func(t *testing.T) {
		r := setupTradingRouter(NewTradingHandler(&mockTradingService{}))

		rec := doRequest(r, "GET", "/accounts/acc-1/orders/ord-9", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		order := parseJSON(t, rec)["order"].(map[string]interface{})
		if order["id"] != "ord-9" {
			t.Errorf("expected ord-9, got %v", order["id"])
		}
	})

	t.Run("unsupported provider", func(t *testing.T) {
		svc := &mockTradingService{
			searchSymbolsFn: func(context.Context, string, string, string) ([]provider.Symbol, error) {
				return nil, apperrors.ErrUnsupportedOperation
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "GET", "/accounts/acc-1/symbols?q=apple", "")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "UNSUPPORTED_OPERATION")
	})
}

func TestTradingHandler_Crypto(t *testing.T) {
	t.Run("place maps amount and pair", func(t *testing.T) {
		var got provider.CryptoOrderRequest
		svc := &mockTradingService{
			placeCryptoOrderFn: func(_ context.Context, _ string, req provider.CryptoOrderRequest) (*models.Order, error) {
				got = req
				return &models.Order{ID: "c1", AccountID: req.AccountID}, nil
			},
		}
		r := setupTradingRouter(NewTradingHandler(svc))

		rec := doRequest(r, "POST", "/accounts/acc-1/crypto/orders", `{"pair":"XLM-USD","side":"BUY","type":"Market","amount":"25"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.Pair != "XLM-USD" || !got.Amount.Equal(decimal.NewFromInt(25)) || got.AccountID != "acc-1" {
			t.Errorf("unexpected request: %+v", got)
		}
	})

	t.Run("preview rejects a bad pair", func(t *testing.T) {
		r := setupTradingRouter(NewTradingHandler(&mockTradingService{}))

		rec := doRequest(r, "POST", "/accounts/acc-1/crypto/orders/preview", `{"pair":"???","side":"BUY","type":"Market","amount":1}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("quote and pairs", func(t *testing.T) {
		r := setupTradingRouter(NewTradingHandler(&mockTradingService{}))

		rec := doRequest(r, "GET", "/accounts/acc-1/crypto/quote?pair=BTC-USD", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		quote := parseJSON(t, rec)["quote"].(map[string]interface{})
		if quote["symbol"] != "BTC-USD" {
			t.Errorf("expected BTC-USD, got %v", quote["symbol"])
		}

		rec = doRequest(r, "GET", "/accounts/acc-1/crypto/pairs?base=BTC", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}
