package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/services"
)

// AccountHandler serves the mirrored accounts, holdings and activity.
type AccountHandler struct {
	mirror services.MirrorServicer
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(mirror services.MirrorServicer) *AccountHandler {
	return &AccountHandler{mirror: mirror}
}

// AccountDetail is an account with its latest holdings.
type AccountDetail struct {
	Account   *models.Account   `json:"account"`
	Balance   *models.Balance   `json:"balance,omitempty"`
	Positions []models.Position `json:"positions"`
}

// ListAccounts handles listing the user's mirrored accounts.
// @Summary     List accounts
// @Tags        accounts
// @Produce     json
// @Security    BearerAuth
// @Param       provider query string false "Filter by provider"
// @Success     200 {array} models.Account
// @Router      /accounts [get]
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	p := models.Provider(c.Query("provider"))
	if p != "" && !p.Valid() {
		respondWithError(c, errUnknownProvider(string(p)))
		return
	}

	accounts, err := h.mirror.ListAccounts(c.Request.Context(), userID, p)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// GetAccount handles fetching one account with its balance and positions.
// @Summary     Get an account
// @Tags        accounts
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Account ID"
// @Success     200 {object} AccountDetail
// @Failure     404 {object} ErrorResponse "Account not found"
// @Router      /accounts/{id} [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	account, err := h.mirror.GetUserAccount(ctx, userID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	detail := AccountDetail{Account: account}

	balance, err := h.mirror.GetBalance(ctx, account.ID)
	switch {
	case err == nil:
		detail.Balance = balance
	case !errors.Is(err, apperrors.ErrNotFound):
		respondWithError(c, err)
		return
	}

	detail.Positions, err = h.mirror.ListPositions(ctx, account.ID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if detail.Positions == nil {
		detail.Positions = []models.Position{}
	}
	c.JSON(http.StatusOK, detail)
}

// ListActivities pages through the account's mirrored activity.
// @Summary     List account activity
// @Tags        accounts
// @Produce     json
// @Security    BearerAuth
// @Param       id        path  string true  "Account ID"
// @Param       page      query int    false "Page number"
// @Param       page_size query int    false "Items per page"
// @Success     200 {object} pagination.PageResponse[models.Activity]
// @Failure     404 {object} ErrorResponse "Account not found"
// @Router      /accounts/{id}/activities [get]
func (h *AccountHandler) ListActivities(c *gin.Context) {
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
	ctx := c.Request.Context()

	if _, err := h.mirror.GetUserAccount(ctx, userID, c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	activities, err := h.mirror.ListActivities(ctx, c.Param("id"), page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}
