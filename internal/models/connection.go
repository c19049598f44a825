package models

import "time"

// Connection is one remote authorization (a SnapTrade brokerage
// authorization or a Teller enrollment). Its id is the provider's id.
type Connection struct {
	ID                    string     `gorm:"primaryKey;size:191" json:"id"`
	LocalUserID           string     `gorm:"not null;index;size:191" json:"local_user_id"`
	Provider              Provider   `gorm:"not null;size:32" json:"provider"`
	BrokerName            string     `json:"broker_name"`
	Type                  string     `json:"type,omitempty"`
	Disabled              bool       `gorm:"not null;default:false" json:"disabled"`
	DisabledAt            *time.Time `json:"disabled_at,omitempty"`
	AccessTokenCiphertext string     `gorm:"column:access_token" json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
}
