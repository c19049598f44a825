package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"flint/internal/connections"
	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
)

// ConnectionHandler handles provider registration and connection requests.
type ConnectionHandler struct {
	connections connections.Servicer
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(svc connections.Servicer) *ConnectionHandler {
	return &ConnectionHandler{connections: svc}
}

// LinkEnrollmentRequest is the payload Teller Connect hands the client
// after a successful enrollment.
type LinkEnrollmentRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	EnrollmentID string `json:"enrollment_id" binding:"required,max=191"`
	UserID       string `json:"user_id" binding:"max=191"`
	Institution  string `json:"institution" binding:"max=200"`
}

// PortalRequest asks for a hosted connection portal link.
type PortalRequest struct {
	Provider                 models.Provider `json:"provider" binding:"required,provider"`
	RedirectURI              string          `json:"redirect_uri" binding:"omitempty,url"`
	ReconnectAuthorizationID string          `json:"reconnect_authorization_id" binding:"max=191"`
	Broker                   string          `json:"broker" binding:"max=100"`
}

// SyncRequest triggers a manual sync of one provider.
type SyncRequest struct {
	Provider        models.Provider `json:"provider" binding:"required,provider"`
	AuthorizationID string          `json:"authorization_id" binding:"max=191"`
}

// RegisterSnapTrade registers the user with SnapTrade.
// @Summary     Register with SnapTrade
// @Description Create the user's SnapTrade registration. Repeated calls return the existing one.
// @Tags        providers
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} models.UserCredential
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     503 {object} ErrorResponse "Provider not configured"
// @Router      /providers/snaptrade/register [post]
func (h *ConnectionHandler) RegisterSnapTrade(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	cred, err := h.connections.RegisterUser(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registration": cred})
}

// LinkTellerEnrollment stores a Teller enrollment.
// @Summary     Link a Teller enrollment
// @Tags        providers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body LinkEnrollmentRequest true "Teller Connect result"
// @Success     201 {object} models.Connection
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     403 {object} ErrorResponse "Enrollment belongs to another user"
// @Router      /providers/teller/enrollments [post]
func (h *ConnectionHandler) LinkTellerEnrollment(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req LinkEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	conn, err := h.connections.LinkEnrollment(c.Request.Context(), userID, connections.EnrollmentInput{
		AccessToken:  req.AccessToken,
		EnrollmentID: req.EnrollmentID,
		TellerUserID: req.UserID,
		Institution:  req.Institution,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

// DisconnectProvider removes the user's registration and mirror for a provider.
// @Summary     Disconnect a provider
// @Tags        providers
// @Security    BearerAuth
// @Param       provider path string true "snaptrade or teller"
// @Success     204 "Disconnected"
// @Failure     400 {object} ErrorResponse "Unknown provider"
// @Router      /providers/{provider} [delete]
func (h *ConnectionHandler) DisconnectProvider(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	p, err := parseProvider(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.connections.DisconnectUser(c.Request.Context(), userID, p); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListConnections lists the user's connections.
// @Summary     List connections
// @Tags        connections
// @Produce     json
// @Security    BearerAuth
// @Param       provider query string false "Filter by provider"
// @Success     200 {array} models.Connection
// @Router      /connections [get]
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
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

	conns, err := h.connections.ListConnections(c.Request.Context(), userID, p)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// Portal returns a hosted connection portal link.
// @Summary     Get a connection portal link
// @Tags        connections
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body PortalRequest true "Portal options"
// @Success     200 {object} map[string]string
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /connections/portal [post]
func (h *ConnectionHandler) Portal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req PortalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	url, err := h.connections.PortalURL(c.Request.Context(), userID, req.Provider, provider.LoginRequest{
		RedirectURI:              req.RedirectURI,
		ReconnectAuthorizationID: req.ReconnectAuthorizationID,
		Broker:                   req.Broker,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// RefreshConnection asks the provider to re-pull a connection.
// @Summary     Refresh a connection
// @Tags        connections
// @Security    BearerAuth
// @Param       id path string true "Connection ID"
// @Success     202 "Refresh requested"
// @Failure     404 {object} ErrorResponse "Connection not found"
// @Router      /connections/{id}/refresh [post]
func (h *ConnectionHandler) RefreshConnection(c *gin.Context) {
	h.connectionAction(c, h.connections.RefreshConnection, http.StatusAccepted)
}

// DisableConnection disables a connection at the provider and locally.
// @Summary     Disable a connection
// @Tags        connections
// @Security    BearerAuth
// @Param       id path string true "Connection ID"
// @Success     204 "Disabled"
// @Failure     404 {object} ErrorResponse "Connection not found"
// @Router      /connections/{id}/disable [post]
func (h *ConnectionHandler) DisableConnection(c *gin.Context) {
	h.connectionAction(c, h.connections.DisableConnection, http.StatusNoContent)
}

// RemoveConnection deletes a connection and its mirrored accounts.
// @Summary     Remove a connection
// @Tags        connections
// @Security    BearerAuth
// @Param       id path string true "Connection ID"
// @Success     204 "Removed"
// @Failure     404 {object} ErrorResponse "Connection not found"
// @Router      /connections/{id} [delete]
func (h *ConnectionHandler) RemoveConnection(c *gin.Context) {
	h.connectionAction(c, h.connections.RemoveConnection, http.StatusNoContent)
}

// Sync runs a manual sync.
// @Summary     Sync now
// @Tags        connections
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body SyncRequest true "Sync scope"
// @Success     200 {object} connections.SyncReport
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /connections/sync [post]
func (h *ConnectionHandler) Sync(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	report, err := h.connections.Sync(c.Request.Context(), userID, req.Provider, req.AuthorizationID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ConnectionHandler) connectionAction(c *gin.Context, action func(ctx context.Context, userID, connectionID string) error, status int) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := action(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(status)
}
