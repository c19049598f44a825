package services

import (
	"context"
	"errors"
	"time"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mirrorService implements MirrorServicer.
type mirrorService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMirrorService creates a new MirrorServicer.
func NewMirrorService(db *gorm.DB) MirrorServicer {
	return &mirrorService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// --- connections ---

func (s *mirrorService) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrConnectionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &conn, nil
}

func (s *mirrorService) GetUserConnection(ctx context.Context, userID, id string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.WithContext(ctx).Where("id = ? AND local_user_id = ?", id, userID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrConnectionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &conn, nil
}

// ListConnections returns the user's connections, optionally for one provider.
func (s *mirrorService) ListConnections(ctx context.Context, userID string, provider models.Provider) ([]models.Connection, error) {
	var conns []models.Connection
	q := s.db.WithContext(ctx).Where("local_user_id = ?", userID)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.Order("created_at ASC").Find(&conns).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return conns, nil
}

// EnsureConnection inserts conn unless a row with its id already exists.
// It reports whether a row was created; existing rows are not modified.
func (s *mirrorService) EnsureConnection(ctx context.Context, conn *models.Connection) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conn)
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpsertConnection writes the provider's view of a connection, including its
// disabled flag. The stored access token and owner are never overwritten.
func (s *mirrorService) UpsertConnection(ctx context.Context, conn *models.Connection) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"broker_name", "type", "disabled", "disabled_at", "updated_at"}),
	}).Omit("access_token").Create(conn).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// SetConnectionDisabled flips the disabled flag on the provider's connection.
// It reports whether the row exists; a missing row is not an error.
func (s *mirrorService) SetConnectionDisabled(ctx context.Context, p models.Provider, id string, disabled bool) (bool, error) {
	updates := map[string]any{"disabled": disabled, "updated_at": s.now()}
	if disabled {
		updates["disabled_at"] = gorm.Expr("COALESCE(disabled_at, ?)", s.now())
	} else {
		updates["disabled_at"] = nil
	}
	res := s.db.WithContext(ctx).Model(&models.Connection{}).Where("id = ? AND provider = ?", id, p).Updates(updates)
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchConnection records a sync time without altering the disabled flag.
func (s *mirrorService) TouchConnection(ctx context.Context, p models.Provider, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Connection{}).Where("id = ? AND provider = ?", id, p).
		Updates(map[string]any{"last_sync_at": at, "updated_at": s.now()})
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteConnection removes a connection and everything its accounts own.
func (s *mirrorService) DeleteConnection(ctx context.Context, p models.Provider, id string) (bool, error) {
	var found bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var accountIDs []string
		var n int64
		if err := tx.Model(&models.Connection{}).Where("id = ? AND provider = ?", id, p).Count(&n).Error; err != nil || n == 0 {
			return err
		}
		if err := tx.Model(&models.Account{}).Where("connection_id = ?", id).Pluck("id", &accountIDs).Error; err != nil {
			return err
		}
		if err := deleteAccounts(tx, accountIDs); err != nil {
			return err
		}
		res := tx.Where("id = ? AND provider = ?", id, p).Delete(&models.Connection{})
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return found, nil
}

// DisableUserConnections marks every connection of the user disabled.
func (s *mirrorService) DisableUserConnections(ctx context.Context, userID string, provider models.Provider) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Connection{}).
		Where("local_user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]any{
			"disabled":    true,
			"disabled_at": gorm.Expr("COALESCE(disabled_at, ?)", now),
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected, nil
}

// --- accounts ---

func (s *mirrorService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &account, nil
}

func (s *mirrorService) GetUserAccount(ctx context.Context, userID, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ? AND local_user_id = ?", id, userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &account, nil
}

func (s *mirrorService) ListAccounts(ctx context.Context, userID string, provider models.Provider) ([]models.Account, error) {
	var accounts []models.Account
	q := s.db.WithContext(ctx).Where("local_user_id = ?", userID)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return accounts, nil
}

func (s *mirrorService) AccountExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return count > 0, nil
}

// UpsertAccount inserts or refreshes an account. holdings_last_sync_at is
// owned by ReplaceHoldings and is not overwritten here.
func (s *mirrorService) UpsertAccount(ctx context.Context, account *models.Account) error {
	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"connection_id", "institution", "name", "number_masked", "type", "subtype",
			"status", "currency", "total_balance", "updated_at",
		}),
	}).Create(account).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// DeleteAccount removes an account with its balance, positions, orders and activities.
func (s *mirrorService) DeleteAccount(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteAccounts(tx, []string{id})
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// PruneAccounts deletes the connection's accounts whose ids are not in keep.
func (s *mirrorService) PruneAccounts(ctx context.Context, connectionID string, keep []string) (int64, error) {
	var pruned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Account{}).Where("connection_id = ?", connectionID)
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
		var stale []string
		if err := q.Pluck("id", &stale).Error; err != nil {
			return err
		}
		pruned = int64(len(stale))
		return deleteAccounts(tx, stale)
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return pruned, nil
}

// MarkAccountsNeedReconnect flags the user's accounts without touching their data.
func (s *mirrorService) MarkAccountsNeedReconnect(ctx context.Context, userID string, provider models.Provider) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("local_user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]any{"status": models.AccountStatusNeedsReconnect, "updated_at": s.now()})
	if res.Error != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteUserMirror removes every connection of the user for provider, cascading.
func (s *mirrorService) DeleteUserMirror(ctx context.Context, userID string, provider models.Provider) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var connIDs []string
		if err := tx.Model(&models.Connection{}).
			Where("local_user_id = ? AND provider = ?", userID, provider).
			Pluck("id", &connIDs).Error; err != nil {
			return err
		}
		if len(connIDs) == 0 {
			return nil
		}
		var accountIDs []string
		if err := tx.Model(&models.Account{}).Where("connection_id IN ?", connIDs).Pluck("id", &accountIDs).Error; err != nil {
			return err
		}
		if err := deleteAccounts(tx, accountIDs); err != nil {
			return err
		}
		return tx.Where("id IN ?", connIDs).Delete(&models.Connection{}).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// --- holdings ---

// ReplaceHoldings swaps the account's balance and positions for a fresh
// snapshot. If the account no longer exists, leftover holdings rows are
// removed and ErrAccountNotFound is returned.
func (s *mirrorService) ReplaceHoldings(ctx context.Context, accountID string, balance *models.Balance, positions []models.Position, syncedAt time.Time) error {
	missing := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			missing = true
			return deleteHoldings(tx, []string{accountID})
		}

		if err := deleteHoldings(tx, []string{accountID}); err != nil {
			return err
		}
		if balance != nil {
			balance.AccountID = accountID
			if balance.LastUpdated.IsZero() {
				balance.LastUpdated = syncedAt
			}
			if err := tx.Create(balance).Error; err != nil {
				return err
			}
		}
		if len(positions) > 0 {
			for i := range positions {
				positions[i].ID = ""
				positions[i].AccountID = accountID
				if positions[i].LastUpdated.IsZero() {
					positions[i].LastUpdated = syncedAt
				}
			}
			if err := tx.CreateInBatches(positions, 200).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Account{}).Where("id = ?", accountID).
			Update("holdings_last_sync_at", syncedAt).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if missing {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// DeleteOrphanHoldings removes holdings rows for an account id that no longer exists.
func (s *mirrorService) DeleteOrphanHoldings(ctx context.Context, accountID string) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		res := tx.Where("account_id = ?", accountID).Delete(&models.Position{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Where("account_id = ?", accountID).Delete(&models.Balance{}).Error
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return removed, nil
}

func (s *mirrorService) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	var balance models.Balance
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.WithMessage(apperrors.ErrNotFound, "Balance not found")
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &balance, nil
}

func (s *mirrorService) ListPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	var positions []models.Position
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return positions, nil
}

// --- history ---

// UpsertOrders inserts new orders and refreshes the status fields of known ones.
func (s *mirrorService) UpsertOrders(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "filled_quantity", "price", "filled_at", "cancelled_at", "updated_at",
		}),
	}).CreateInBatches(orders, 200).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// UpsertActivities inserts new activities and refreshes mutable fields of known ones.
func (s *mirrorService) UpsertActivities(ctx context.Context, activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "description", "amount", "status", "updated_at",
		}),
	}).CreateInBatches(activities, 200).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *mirrorService) ListOrders(ctx context.Context, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Order], error) {
	page.Defaults()
	base := s.db.WithContext(ctx).Model(&models.Order{}).Where("account_id = ?", accountID).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	var orders []models.Order
	if err := base.Order("placed_at DESC").Scopes(pagination.Paginate(page)).Find(&orders).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	resp := pagination.NewPageResponse(orders, page.Page, page.PageSize, total)
	return &resp, nil
}

func (s *mirrorService) ListActivities(ctx context.Context, accountID string, page pagination.PageRequest) (*pagination.PageResponse[models.Activity], error) {
	page.Defaults()
	base := s.db.WithContext(ctx).Model(&models.Activity{}).Where("account_id = ?", accountID).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	var activities []models.Activity
	if err := base.Order("date DESC").Scopes(pagination.Paginate(page)).Find(&activities).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	resp := pagination.NewPageResponse(activities, page.Page, page.PageSize, total)
	return &resp, nil
}

// deleteHoldings removes balance and position rows of the given accounts.
func deleteHoldings(tx *gorm.DB, accountIDs []string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	if err := tx.Where("account_id IN ?", accountIDs).Delete(&models.Position{}).Error; err != nil {
		return err
	}
	return tx.Where("account_id IN ?", accountIDs).Delete(&models.Balance{}).Error
}

// deleteAccounts removes accounts and every row they own, and unlinks goals.
func deleteAccounts(tx *gorm.DB, accountIDs []string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	if err := deleteHoldings(tx, accountIDs); err != nil {
		return err
	}
	if err := tx.Where("account_id IN ?", accountIDs).Delete(&models.Order{}).Error; err != nil {
		return err
	}
	if err := tx.Where("account_id IN ?", accountIDs).Delete(&models.Activity{}).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Goal{}).Where("linked_account_id IN ?", accountIDs).
		Update("linked_account_id", nil).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", accountIDs).Delete(&models.Account{}).Error
}
