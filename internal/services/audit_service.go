package services

import (
	"context"
	"encoding/json"
	"strings"

	"flint/internal/logger"
	"flint/internal/models"

	"gorm.io/gorm"
)

// auditService appends credential and connection lifecycle events.
type auditService struct {
	db *gorm.DB
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(db *gorm.DB) AuditServicer {
	return &auditService{db: db}
}

// Log records an audit event. Failures are logged and swallowed so the
// audited operation still completes.
func (s *auditService) Log(ctx context.Context, userID string, provider models.Provider, action, resourceType, resourceID string, changes map[string]any) {
	entry := &models.AuditLog{
		UserID:       userID,
		Provider:     provider,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Changes:      encodeChanges(action, changes),
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.Get().Errorw("failed to create audit log entry",
			"error", err,
			"user_id", userID,
			"provider", provider,
			"action", action,
			"resource_id", resourceID,
		)
	}
}

// encodeChanges serializes changes, masking any value whose key names a
// secret or token.
func encodeChanges(action string, changes map[string]any) string {
	if len(changes) == 0 {
		return ""
	}
	safe := make(map[string]any, len(changes))
	for k, v := range changes {
		lk := strings.ToLower(k)
		if s, ok := v.(string); ok && (strings.Contains(lk, "secret") || strings.Contains(lk, "token")) {
			v = logger.Redact(s)
		}
		safe[k] = v
	}
	data, err := json.Marshal(safe)
	if err != nil {
		logger.Get().Errorw("failed to marshal audit log changes", "error", err, "action", action)
		return "{}"
	}
	return string(data)
}
