package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/services"
)

// GoalHandler handles goal CRUD requests.
type GoalHandler struct {
	goalService services.GoalServicer
}

// NewGoalHandler creates a new GoalHandler.
func NewGoalHandler(goalService services.GoalServicer) *GoalHandler {
	return &GoalHandler{goalService: goalService}
}

// GoalRequest represents the writable fields of a goal. Omitted fields are
// left unchanged on update.
type GoalRequest struct {
	Type                *models.GoalType   `json:"type" binding:"omitempty,goal_type"`
	Name                *string            `json:"name" binding:"omitempty,min=1,max=100"`
	TargetAmount        *decimal.Decimal   `json:"target_amount" swaggertype:"number"`
	CurrentAmount       *decimal.Decimal   `json:"current_amount" swaggertype:"number"`
	LinkedAccountID     *string            `json:"linked_account_id" binding:"omitempty,max=191"`
	Deadline            *time.Time         `json:"deadline"`
	MonthlyContribution *decimal.Decimal   `json:"monthly_contribution" swaggertype:"number"`
	Status              *models.GoalStatus `json:"status" binding:"omitempty,goal_status"`
}

func (r GoalRequest) input() services.GoalInput {
	return services.GoalInput{
		Type:                r.Type,
		Name:                r.Name,
		TargetAmount:        r.TargetAmount,
		CurrentAmount:       r.CurrentAmount,
		LinkedAccountID:     r.LinkedAccountID,
		Deadline:            r.Deadline,
		MonthlyContribution: r.MonthlyContribution,
		Status:              r.Status,
	}
}

// CreateGoal handles creating a goal.
// @Summary     Create a goal
// @Tags        goals
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body GoalRequest true "Goal"
// @Success     201 {object} models.Goal
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /goals [post]
func (h *GoalHandler) CreateGoal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req GoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	goal, err := h.goalService.CreateGoal(c.Request.Context(), userID, req.input())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal": goal})
}

// ListGoals handles listing the user's goals.
// @Summary     List goals
// @Tags        goals
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number"
// @Param       page_size query int false "Items per page"
// @Success     200 {object} pagination.PageResponse[models.Goal]
// @Router      /goals [get]
func (h *GoalHandler) ListGoals(c *gin.Context) {
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

	goals, err := h.goalService.ListGoals(c.Request.Context(), userID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, goals)
}

// GetGoal handles fetching one goal.
// @Summary     Get a goal
// @Tags        goals
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Goal ID"
// @Success     200 {object} models.Goal
// @Failure     404 {object} ErrorResponse "Goal not found"
// @Router      /goals/{id} [get]
func (h *GoalHandler) GetGoal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	goal, err := h.goalService.GetGoal(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goal})
}

// UpdateGoal handles a partial goal update.
// @Summary     Update a goal
// @Tags        goals
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string      true "Goal ID"
// @Param       request body GoalRequest true "Fields to change"
// @Success     200 {object} models.Goal
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     404 {object} ErrorResponse "Goal not found"
// @Router      /goals/{id} [put]
func (h *GoalHandler) UpdateGoal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req GoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	goal, err := h.goalService.UpdateGoal(c.Request.Context(), userID, c.Param("id"), req.input())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goal})
}

// DeleteGoal handles deleting a goal.
// @Summary     Delete a goal
// @Tags        goals
// @Security    BearerAuth
// @Param       id path string true "Goal ID"
// @Success     204 "Deleted"
// @Failure     404 {object} ErrorResponse "Goal not found"
// @Router      /goals/{id} [delete]
func (h *GoalHandler) DeleteGoal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := h.goalService.DeleteGoal(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncGoal copies the linked account's balance into the goal.
// @Summary     Sync goal progress
// @Tags        goals
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Goal ID"
// @Success     200 {object} models.Goal
// @Failure     400 {object} ErrorResponse "Goal has no linked account"
// @Failure     404 {object} ErrorResponse "Goal not found"
// @Router      /goals/{id}/sync [post]
func (h *GoalHandler) SyncGoal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	goal, err := h.goalService.SyncGoalFromAccount(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goal})
}
