package services

import (
	"context"
	"errors"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/pagination"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// goalService implements GoalServicer.
type goalService struct {
	db *gorm.DB
}

// NewGoalService creates a new GoalServicer.
func NewGoalService(db *gorm.DB) GoalServicer {
	return &goalService{db: db}
}

// CreateGoal creates a goal for the user. Type, name and a positive target are required.
func (s *goalService) CreateGoal(ctx context.Context, userID string, input GoalInput) (*models.Goal, error) {
	if input.Type == nil || input.Name == nil || input.TargetAmount == nil {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "type, name and target_amount are required")
	}
	if !input.TargetAmount.IsPositive() {
		return nil, apperrors.ErrInvalidGoalTarget
	}

	goal := &models.Goal{
		UserID:       userID,
		Type:         *input.Type,
		Name:         *input.Name,
		TargetAmount: *input.TargetAmount,
		Status:       models.GoalStatusActive,
	}
	if err := s.apply(ctx, userID, goal, input); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(goal).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return goal, nil
}

func (s *goalService) GetGoal(ctx context.Context, userID, id string) (*models.Goal, error) {
	var goal models.Goal
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&goal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGoalNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &goal, nil
}

func (s *goalService) ListGoals(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Goal], error) {
	page.Defaults()
	q := s.db.WithContext(ctx).Model(&models.Goal{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	var goals []models.Goal
	if err := q.Order("created_at DESC").Scopes(pagination.Paginate(page)).Find(&goals).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	resp := pagination.NewPageResponse(goals, page.Page, page.PageSize, total)
	return &resp, nil
}

func (s *goalService) UpdateGoal(ctx context.Context, userID, id string, input GoalInput) (*models.Goal, error) {
	goal, err := s.GetGoal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if input.Type != nil {
		goal.Type = *input.Type
	}
	if input.Name != nil {
		goal.Name = *input.Name
	}
	if input.TargetAmount != nil {
		if !input.TargetAmount.IsPositive() {
			return nil, apperrors.ErrInvalidGoalTarget
		}
		goal.TargetAmount = *input.TargetAmount
	}
	if input.Status != nil {
		goal.Status = *input.Status
	}
	if err := s.apply(ctx, userID, goal, input); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(goal).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return goal, nil
}

func (s *goalService) DeleteGoal(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Goal{})
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrGoalNotFound
	}
	return nil
}

// SyncGoalFromAccount copies the linked account's total balance into the
// goal's current amount and completes the goal once the target is reached.
func (s *goalService) SyncGoalFromAccount(ctx context.Context, userID, id string) (*models.Goal, error) {
	goal, err := s.GetGoal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if goal.LinkedAccountID == nil {
		return nil, apperrors.ErrGoalNotLinked
	}

	var account models.Account
	err = s.db.WithContext(ctx).
		Where("id = ? AND local_user_id = ?", *goal.LinkedAccountID, userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	goal.CurrentAmount = account.TotalBalance
	if goal.Type == models.GoalTypeDebtPayoff {
		goal.CurrentAmount = goal.TargetAmount.Sub(account.TotalBalance.Abs())
		if goal.CurrentAmount.IsNegative() {
			goal.CurrentAmount = decimal.Zero
		}
	}
	if goal.Status == models.GoalStatusActive && goal.CurrentAmount.GreaterThanOrEqual(goal.TargetAmount) {
		goal.Status = models.GoalStatusCompleted
	}

	if err := s.db.WithContext(ctx).Save(goal).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return goal, nil
}

// apply copies optional fields and verifies a linked account belongs to the user.
func (s *goalService) apply(ctx context.Context, userID string, goal *models.Goal, input GoalInput) error {
	if input.CurrentAmount != nil {
		goal.CurrentAmount = *input.CurrentAmount
	}
	if input.Deadline != nil {
		goal.Deadline = input.Deadline
	}
	if input.MonthlyContribution != nil {
		goal.MonthlyContribution = decimal.NewNullDecimal(*input.MonthlyContribution)
	}
	if input.LinkedAccountID != nil {
		if *input.LinkedAccountID == "" {
			goal.LinkedAccountID = nil
			return nil
		}
		var count int64
		err := s.db.WithContext(ctx).Model(&models.Account{}).
			Where("id = ? AND local_user_id = ?", *input.LinkedAccountID, userID).
			Count(&count).Error
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if count == 0 {
			return apperrors.ErrAccountNotFound
		}
		linked := *input.LinkedAccountID
		goal.LinkedAccountID = &linked
	}
	return nil
}
