package services

import (
	"context"
	"time"

	"flint/internal/models"
	"flint/internal/pagination"

	"github.com/shopspring/decimal"
)

// CredentialServicer is the credential store: one encrypted registration
// per (local user, provider). Rotation must be serialized by the caller.
type CredentialServicer interface {
	GetCredential(ctx context.Context, provider models.Provider, localUserID string) (*models.UserCredential, error)
	EnsureCredential(ctx context.Context, provider models.Provider, localUserID, remoteUserID, secret string) (*models.UserCredential, error)
	RotateCredential(ctx context.Context, provider models.Provider, localUserID, newRemoteUserID, newSecret string) (*models.UserCredential, error)
	DeleteCredential(ctx context.Context, provider models.Provider, localUserID string) error
	ListCredentials(ctx context.Context, provider models.Provider) ([]models.UserCredential, error)
	FindByRemoteUser(ctx context.Context, provider models.Provider, remoteUserID string) (*models.UserCredential, error)
	SetConnectionToken(ctx context.Context, connectionID, token string) error
	ConnectionToken(ctx context.Context, connectionID string) (string, error)
}

// MirrorServicer owns every write to the local mirror of provider state.
// Each method is a short statement or transaction; none spans a network call.
type MirrorServicer interface {
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	GetUserConnection(ctx context.Context, userID, id string) (*models.Connection, error)
	ListConnections(ctx context.Context, userID string, provider models.Provider) ([]models.Connection, error)
	EnsureConnection(ctx context.Context, conn *models.Connection) (bool, error)
	UpsertConnection(ctx context.Context, conn *models.Connection) error
	SetConnectionDisabled(ctx context.Context, p models.Provider, id string, disabled bool) (bool, error)
	TouchConnection(ctx context.Context, p models.Provider, id string, at time.Time) (bool, error)
	DeleteConnection(ctx context.Context, p models.Provider, id string) (bool, error)
	DisableUserConnections(ctx context.Context, userID string, provider models.Provider) (int64, error)

	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetUserAccount(ctx context.Context, userID, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string, provider models.Provider) ([]models.Account, error)
	AccountExists(ctx context.Context, id string) (bool, error)
	UpsertAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, id string) error
	PruneAccounts(ctx context.Context, connectionID string, keep []string) (int64, error)
	MarkAccountsNeedReconnect(ctx context.Context, userID string, provider models.Provider) (int64, error)
	DeleteUserMirror(ctx context.Context, userID string, provider models.Provider) error

	ReplaceHoldings(ctx context.Context, accountID string, balance *models.Balance, positions []models.Position, syncedAt time.Time) error
	DeleteOrphanHoldings(ctx context.Context, accountID string) (int64, error)
	GetBalance(ctx context.Context, accountID string) (*models.Balance, error)
	ListPositions(ctx context.Context, accountID string) ([]models.Position, error)

	UpsertOrders(ctx context.Context, orders []models.Order) error
	UpsertActivities(ctx context.Context, activities []models.Activity) error
	ListOrders(ctx context.Context, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error)
	ListActivities(ctx context.Context, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Activity], error)
}

// WebhookLogServicer records inbound webhooks.
type WebhookLogServicer interface {
	Record(ctx context.Context, entry *models.WebhookLog) error
	MarkProcessed(ctx context.Context, id, normalizedType string, procErr error) error
	List(ctx context.Context, provider models.Provider, page pagination.PageRequest) (*pagination.PageResponse[models.WebhookLog], error)
}

// AuditServicer defines operations for audit logging.
type AuditServicer interface {
	Log(ctx context.Context, userID string, provider models.Provider, action, resourceType, resourceID string, changes map[string]any)
}

// GoalInput carries the writable fields of a goal. Nil pointers are left unchanged on update.
type GoalInput struct {
	Type                *models.GoalType
	Name                *string
	TargetAmount        *decimal.Decimal
	CurrentAmount       *decimal.Decimal
	LinkedAccountID     *string
	Deadline            *time.Time
	MonthlyContribution *decimal.Decimal
	Status              *models.GoalStatus
}

// GoalServicer defines goal CRUD and account-linked progress sync.
type GoalServicer interface {
	CreateGoal(ctx context.Context, userID string, input GoalInput) (*models.Goal, error)
	GetGoal(ctx context.Context, userID, id string) (*models.Goal, error)
	ListGoals(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Goal], error)
	UpdateGoal(ctx context.Context, userID, id string, input GoalInput) (*models.Goal, error)
	DeleteGoal(ctx context.Context, userID, id string) error
	SyncGoalFromAccount(ctx context.Context, userID, id string) (*models.Goal, error)
}
