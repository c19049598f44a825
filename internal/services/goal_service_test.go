package services

import (
	"context"
	"testing"

	"flint/internal/models"
	"flint/internal/pagination"
	"flint/internal/testutil"

	"github.com/shopspring/decimal"
)

func goalPtr[T any](v T) *T { return &v }

func TestCreateGoal(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)

		goal, err := svc.CreateGoal(ctx, "user-1", GoalInput{
			Type:         goalPtr(models.GoalTypeSavings),
			Name:         goalPtr("House"),
			TargetAmount: goalPtr(decimal.NewFromInt(50000)),
		})
		testutil.AssertNoError(t, err)
		if goal.ID == "" {
			t.Error("expected id to be assigned")
		}
		if goal.Status != models.GoalStatusActive {
			t.Errorf("expected active, got %s", goal.Status)
		}
	})

	t.Run("non_positive_target", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)

		_, err := svc.CreateGoal(ctx, "user-1", GoalInput{
			Type:         goalPtr(models.GoalTypeSavings),
			Name:         goalPtr("Nothing"),
			TargetAmount: goalPtr(decimal.Zero),
		})
		testutil.AssertAppError(t, err, "INVALID_GOAL_TARGET")
	})

	t.Run("linked_account_of_other_user", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)
		conn := testutil.CreateTestConnection(t, db, models.ProviderTeller, "user-2")
		account := testutil.CreateTestAccount(t, db, conn)

		_, err := svc.CreateGoal(ctx, "user-1", GoalInput{
			Type:            goalPtr(models.GoalTypeSavings),
			Name:            goalPtr("Borrowed"),
			TargetAmount:    goalPtr(decimal.NewFromInt(10)),
			LinkedAccountID: goalPtr(account.ID),
		})
		testutil.AssertAppError(t, err, "ACCOUNT_NOT_FOUND")
	})
}

func TestGoalOwnership(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewGoalService(db)
	goal := testutil.CreateTestGoal(t, db, "user-1", nil)

	t.Run("other_user_cannot_read", func(t *testing.T) {
		_, err := svc.GetGoal(ctx, "user-2", goal.ID)
		testutil.AssertAppError(t, err, "GOAL_NOT_FOUND")
	})

	t.Run("other_user_cannot_delete", func(t *testing.T) {
		err := svc.DeleteGoal(ctx, "user-2", goal.ID)
		testutil.AssertAppError(t, err, "GOAL_NOT_FOUND")
	})

	t.Run("owner_lists", func(t *testing.T) {
		page, err := svc.ListGoals(ctx, "user-1", pagination.PageRequest{})
		testutil.AssertNoError(t, err)
		if page.TotalItems != 1 {
			t.Errorf("expected 1 goal, got %d", page.TotalItems)
		}
	})
}

func TestUpdateGoal(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewGoalService(db)
	goal := testutil.CreateTestGoal(t, db, "user-1", nil)

	updated, err := svc.UpdateGoal(ctx, "user-1", goal.ID, GoalInput{
		Name:   goalPtr("Renamed"),
		Status: goalPtr(models.GoalStatusPaused),
	})
	testutil.AssertNoError(t, err)
	if updated.Name != "Renamed" || updated.Status != models.GoalStatusPaused {
		t.Errorf("unexpected goal after update: %+v", updated)
	}
	if !updated.TargetAmount.Equal(goal.TargetAmount) {
		t.Errorf("expected target unchanged, got %s", updated.TargetAmount)
	}
}

func TestSyncGoalFromAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("copies_balance_and_completes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)
		conn := testutil.CreateTestConnection(t, db, models.ProviderTeller, "user-1")
		account := testutil.CreateTestAccount(t, db, conn)
		db.Model(account).Update("total_balance", decimal.NewFromInt(6000))
		goal := testutil.CreateTestGoal(t, db, "user-1", &account.ID)

		synced, err := svc.SyncGoalFromAccount(ctx, "user-1", goal.ID)
		testutil.AssertNoError(t, err)
		if !synced.CurrentAmount.Equal(decimal.NewFromInt(6000)) {
			t.Errorf("expected current 6000, got %s", synced.CurrentAmount)
		}
		if synced.Status != models.GoalStatusCompleted {
			t.Errorf("expected completed, got %s", synced.Status)
		}
	})

	t.Run("debt_payoff_tracks_paid_down_amount", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)
		conn := testutil.CreateTestConnection(t, db, models.ProviderTeller, "user-1")
		account := testutil.CreateTestAccount(t, db, conn)
		db.Model(account).Update("total_balance", decimal.NewFromInt(-2000))
		goal, err := svc.CreateGoal(ctx, "user-1", GoalInput{
			Type:            goalPtr(models.GoalTypeDebtPayoff),
			Name:            goalPtr("Card"),
			TargetAmount:    goalPtr(decimal.NewFromInt(5000)),
			LinkedAccountID: goalPtr(account.ID),
		})
		testutil.AssertNoError(t, err)

		synced, err := svc.SyncGoalFromAccount(ctx, "user-1", goal.ID)
		testutil.AssertNoError(t, err)
		if !synced.CurrentAmount.Equal(decimal.NewFromInt(3000)) {
			t.Errorf("expected current 3000, got %s", synced.CurrentAmount)
		}
		if synced.Status != models.GoalStatusActive {
			t.Errorf("expected still active, got %s", synced.Status)
		}
	})

	t.Run("unlinked_goal", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewGoalService(db)
		goal := testutil.CreateTestGoal(t, db, "user-1", nil)

		_, err := svc.SyncGoalFromAccount(ctx, "user-1", goal.ID)
		testutil.AssertAppError(t, err, "GOAL_NOT_LINKED")
	})
}
