package models

import (
	"time"

	"flint/internal/uuid"

	"gorm.io/gorm"
)

// WebhookLog is the append-only record of every inbound webhook.
type WebhookLog struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	Provider        Provider  `gorm:"size:32;index" json:"provider"`
	Type            string    `gorm:"index" json:"type"`
	NormalizedType  string    `json:"normalized_type,omitempty"`
	EventID         string    `gorm:"index" json:"event_id,omitempty"`
	UserID          *string   `gorm:"index" json:"user_id,omitempty"`
	AuthorizationID *string   `gorm:"index" json:"authorization_id,omitempty"`
	Payload         string    `gorm:"type:text" json:"payload"`
	Verified        bool      `json:"verified"`
	Processed       bool      `json:"processed"`
	Error           *string   `json:"error,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a UUIDv7 key.
func (w *WebhookLog) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New()
	}
	return nil
}
