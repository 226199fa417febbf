package models

import "time"

// Session holds the access credentials for an installed shop. It is written
// by the platform OAuth flow (outside this service); the sync scheduler reads
// it to discover which shops to sync, and APP_UNINSTALLED deletes it.
type Session struct {
	ID          string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	Shop        string    `gorm:"type:varchar(255);not null;index:idx_sessions_shop" json:"shop"`
	AccessToken string    `gorm:"type:varchar(500);not null" json:"-"`
	Scope       string    `gorm:"type:varchar(500)" json:"scope,omitempty"`
	IsOnline    bool      `gorm:"default:false" json:"isOnline"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Session) TableName() string {
	return "sessions"
}
