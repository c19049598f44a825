package services

import (
	"context"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/pagination"

	"gorm.io/gorm"
)

// webhookLogService appends to and reads the webhook audit trail.
type webhookLogService struct {
	db *gorm.DB
}

// NewWebhookLogService creates a new WebhookLogServicer.
func NewWebhookLogService(db *gorm.DB) WebhookLogServicer {
	return &webhookLogService{db: db}
}

// Record appends entry. The id is assigned on insert.
func (s *webhookLogService) Record(ctx context.Context, entry *models.WebhookLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// MarkProcessed stores the outcome of applying a logged webhook.
func (s *webhookLogService) MarkProcessed(ctx context.Context, id, normalizedType string, procErr error) error {
	updates := map[string]any{
		"normalized_type": normalizedType,
		"processed":       procErr == nil,
	}
	if procErr != nil {
		updates["error"] = procErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&models.WebhookLog{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.WithMessage(apperrors.ErrNotFound, "Webhook log not found")
	}
	return nil
}

// List returns webhook logs newest first, optionally for one provider.
func (s *webhookLogService) List(ctx context.Context, provider models.Provider, page pagination.PageRequest) (*pagination.PageResponse[models.WebhookLog], error) {
	page.Defaults()
	q := s.db.WithContext(ctx).Model(&models.WebhookLog{})
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	var logs []models.WebhookLog
	if err := q.Order("created_at DESC").Scopes(pagination.Paginate(page)).Find(&logs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	resp := pagination.NewPageResponse(logs, page.Page, page.PageSize, total)
	return &resp, nil
}
