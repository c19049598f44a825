package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GoalType classifies a financial target.
type GoalType string

const (
	GoalTypeSavings       GoalType = "savings"
	GoalTypeInvestment    GoalType = "investment"
	GoalTypeDebtPayoff    GoalType = "debt_payoff"
	GoalTypeEmergencyFund GoalType = "emergency_fund"
	GoalTypeRetirement    GoalType = "retirement"
	GoalTypeCustom        GoalType = "custom"
)

// GoalStatus tracks progress.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusPaused    GoalStatus = "paused"
)

// Goal is a user-owned financial target, optionally tracking an Account.
type Goal struct {
	Base
	UserID              string              `gorm:"not null;index;size:191" json:"user_id"`
	Type                GoalType            `gorm:"not null;size:32" json:"type"`
	Name                string              `gorm:"not null" json:"name"`
	TargetAmount        decimal.Decimal     `gorm:"type:numeric(24,8);not null" json:"target_amount"`
	CurrentAmount       decimal.Decimal     `gorm:"type:numeric(24,8);not null;default:0" json:"current_amount"`
	LinkedAccountID     *string             `gorm:"size:191;index" json:"linked_account_id,omitempty"`
	Deadline            *time.Time          `json:"deadline,omitempty"`
	MonthlyContribution decimal.NullDecimal `gorm:"type:numeric(24,8)" json:"monthly_contribution"`
	Status              GoalStatus          `gorm:"not null;default:active;size:16" json:"status"`
}
