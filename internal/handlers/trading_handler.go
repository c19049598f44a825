package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "flint/internal/errors"
	"flint/internal/provider"
	"flint/internal/trading"
)

// TradingHandler handles order, symbol and crypto requests on an account.
type TradingHandler struct {
	trading trading.Servicer
}

// NewTradingHandler creates a new TradingHandler.
func NewTradingHandler(svc trading.Servicer) *TradingHandler {
	return &TradingHandler{trading: svc}
}

// PlaceOrderRequest represents an equity order. Exactly one of quantity
// or notional must be set.
type PlaceOrderRequest struct {
	Symbol            string              `json:"symbol" binding:"required_without=UniversalSymbolID,omitempty,ticker"`
	UniversalSymbolID string              `json:"universal_symbol_id" binding:"max=191"`
	Side              string              `json:"side" binding:"required,order_side"`
	Type              string              `json:"type" binding:"required,order_type"`
	TimeInForce       string              `json:"time_in_force" binding:"omitempty,time_in_force"`
	Quantity          decimal.NullDecimal `json:"quantity" swaggertype:"number"`
	Notional          decimal.NullDecimal `json:"notional" swaggertype:"number"`
	LimitPrice        decimal.NullDecimal `json:"limit_price" swaggertype:"number"`
	StopPrice         decimal.NullDecimal `json:"stop_price" swaggertype:"number"`
}

// CryptoOrderRequest represents a crypto order or preview.
type CryptoOrderRequest struct {
	Pair        string              `json:"pair" binding:"required,ticker"`
	Side        string              `json:"side" binding:"required,order_side"`
	Type        string              `json:"type" binding:"required,order_type"`
	TimeInForce string              `json:"time_in_force" binding:"omitempty,time_in_force"`
	Amount      decimal.Decimal     `json:"amount" swaggertype:"number"`
	LimitPrice  decimal.NullDecimal `json:"limit_price" swaggertype:"number"`
}

// ListOrders pages through the account's mirrored orders.
// @Summary     List orders
// @Tags        orders
// @Produce     json
// @Security    BearerAuth
// @Param       id        path  string true  "Account ID"
// @Param       page      query int    false "Page number"
// @Param       page_size query int    false "Items per page"
// @Success     200 {object} pagination.PageResponse[models.Order]
// @Failure     404 {object} ErrorResponse "Account not found"
// @Router      /accounts/{id}/orders [get]
func (h *TradingHandler) ListOrders(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	orders, err := h.trading.ListOrders(c.Request.Context(), userID, c.Param("id"), page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// PlaceOrder submits an equity order.
// @Summary     Place an order
// @Tags        orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string            true "Account ID"
// @Param       request body PlaceOrderRequest true "Order"
// @Success     201 {object} models.Order
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     404 {object} ErrorResponse "Account not found"
// @Router      /accounts/{id}/orders [post]
func (h *TradingHandler) PlaceOrder(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	order, err := h.trading.PlaceOrder(c.Request.Context(), userID, provider.OrderRequest{
		AccountID:         c.Param("id"),
		Symbol:            req.Symbol,
		UniversalSymbolID: req.UniversalSymbolID,
		Side:              req.Side,
		Type:              req.Type,
		TimeInForce:       req.TimeInForce,
		Quantity:          req.Quantity,
		Notional:          req.Notional,
		LimitPrice:        req.LimitPrice,
		StopPrice:         req.StopPrice,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// CancelOrder cancels an open order.
// @Summary     Cancel an order
// @Tags        orders
// @Security    BearerAuth
// @Param       id      path string true "Account ID"
// @Param       orderId path string true "Order ID"
// @Success     204 "Cancelled"
// @Failure     404 {object} ErrorResponse "Account not found"
// @Router      /accounts/{id}/orders/{orderId} [delete]
func (h *TradingHandler) CancelOrder(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := h.trading.CancelOrder(c.Request.Context(), userID, c.Param("id"), c.Param("orderId")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetOrder reads an order's current status from the provider.
// @Summary     Get order status
// @Tags        orders
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string true "Account ID"
// @Param       orderId path string true "Order ID"
// @Success     200 {object} models.Order
// @Failure     404 {object} ErrorResponse "Not found"
// @Router      /accounts/{id}/orders/{orderId} [get]
func (h *TradingHandler) GetOrder(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	order, err := h.trading.GetOrderStatus(c.Request.Context(), userID, c.Param("id"), c.Param("orderId"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// SearchSymbols finds instruments tradeable in the account.
// @Summary     Search symbols
// @Tags        orders
// @Produce     json
// @Security    BearerAuth
// @Param       id path  string true "Account ID"
// @Param       q  query string true "Search text"
// @Success     200 {array} provider.Symbol
// @Failure     400 {object} ErrorResponse "Missing query"
// @Router      /accounts/{id}/symbols [get]
func (h *TradingHandler) SearchSymbols(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	symbols, err := h.trading.SearchSymbols(c.Request.Context(), userID, c.Param("id"), c.Query("q"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

// SearchCryptoPairs lists crypto pairs for a base currency.
// @Summary     Search crypto pairs
// @Tags        crypto
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string true  "Account ID"
// @Param       base query string false "Base currency"
// @Success     200 {array} provider.CryptoPair
// @Router      /accounts/{id}/crypto/pairs [get]
func (h *TradingHandler) SearchCryptoPairs(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	pairs, err := h.trading.SearchCryptoPairs(c.Request.Context(), userID, c.Param("id"), c.Query("base"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs})
}

// PreviewCryptoOrder estimates a crypto order without placing it.
// @Summary     Preview a crypto order
// @Tags        crypto
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string             true "Account ID"
// @Param       request body CryptoOrderRequest true "Order"
// @Success     200 {object} provider.CryptoPreview
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /accounts/{id}/crypto/orders/preview [post]
func (h *TradingHandler) PreviewCryptoOrder(c *gin.Context) {
	userID, req, ok := h.bindCrypto(c)
	if !ok {
		return
	}
	preview, err := h.trading.PreviewCryptoOrder(c.Request.Context(), userID, req)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preview": preview})
}

// PlaceCryptoOrder submits a crypto order.
// @Summary     Place a crypto order
// @Tags        crypto
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string             true "Account ID"
// @Param       request body CryptoOrderRequest true "Order"
// @Success     201 {object} models.Order
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /accounts/{id}/crypto/orders [post]
func (h *TradingHandler) PlaceCryptoOrder(c *gin.Context) {
	userID, req, ok := h.bindCrypto(c)
	if !ok {
		return
	}
	order, err := h.trading.PlaceCryptoOrder(c.Request.Context(), userID, req)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetCryptoQuote returns the current quote for a pair.
// @Summary     Get a crypto quote
// @Tags        crypto
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string true "Account ID"
// @Param       pair query string true "Pair, e.g. BTC-USD"
// @Success     200 {object} provider.Quote
// @Failure     400 {object} ErrorResponse "Missing pair"
// @Router      /accounts/{id}/crypto/quote [get]
func (h *TradingHandler) GetCryptoQuote(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	quote, err := h.trading.GetCryptoQuote(c.Request.Context(), userID, c.Param("id"), c.Query("pair"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

func (h *TradingHandler) bindCrypto(c *gin.Context) (string, provider.CryptoOrderRequest, bool) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return "", provider.CryptoOrderRequest{}, false
	}
	var req CryptoOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return "", provider.CryptoOrderRequest{}, false
	}
	return userID, provider.CryptoOrderRequest{
		AccountID:   c.Param("id"),
		Pair:        req.Pair,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
		Amount:      req.Amount,
		LimitPrice:  req.LimitPrice,
	}, true
}
