package models

import "time"

// UserCredential is the registration of one local user with one provider.
// The secret is stored encrypted; Secret is only populated after a read
// through the credential service.
type UserCredential struct {
	LocalUserID      string     `gorm:"primaryKey;size:191" json:"local_user_id"`
	Provider         Provider   `gorm:"primaryKey;size:32" json:"provider"`
	RemoteUserID     string     `gorm:"not null;index" json:"remote_user_id"`
	SecretCiphertext string     `gorm:"column:secret;not null" json:"-"`
	Secret           string     `gorm:"-" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	RotatedAt        *time.Time `json:"rotated_at,omitempty"`
}
