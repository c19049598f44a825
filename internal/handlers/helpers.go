package handlers

import (
	"github.com/gin-gonic/gin"

	apperrors "flint/internal/errors"
	"flint/internal/middleware"
	"flint/internal/models"
	"flint/internal/pagination"
)

// ErrorDetail represents the inner error object in an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// getUserID extracts the authenticated user ID from the Gin context.
// Returns ErrUnauthorized if not present.
func getUserID(c *gin.Context) (string, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return userID, nil
}

// parseProvider reads the :provider path parameter.
func parseProvider(c *gin.Context) (models.Provider, error) {
	p := models.Provider(c.Param("provider"))
	if !p.Valid() {
		return "", errUnknownProvider(c.Param("provider"))
	}
	return p, nil
}

func errUnknownProvider(name string) error {
	return apperrors.WithMessage(apperrors.ErrInvalidInput, "Unknown provider "+name)
}

// parsePage binds page and page_size from the query string.
func parsePage(c *gin.Context) (pagination.PageRequest, error) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		return page, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error())
	}
	page.Defaults()
	return page, nil
}

// respondWithError writes a consistent JSON error response.
func respondWithError(c *gin.Context, err error) {
	middleware.WriteError(c, err)
}
