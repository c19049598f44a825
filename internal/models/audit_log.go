package models

// Audit actions.
const (
	AuditCredentialCreated     = "credential.created"
	AuditCredentialRotated     = "credential.rotated"
	AuditCredentialInvalidated = "credential.invalidated"
	AuditCredentialDeleted     = "credential.deleted"
	AuditConnectionRemoved     = "connection.removed"
)

// AuditLog records credential lifecycle and other sensitive operations.
type AuditLog struct {
	Base
	UserID       string   `gorm:"not null;index;size:191" json:"user_id"`
	Provider     Provider `gorm:"size:32" json:"provider,omitempty"`
	Action       string   `gorm:"not null" json:"action"`
	ResourceType string   `gorm:"not null" json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
	Changes      string   `json:"changes,omitempty"`
}
