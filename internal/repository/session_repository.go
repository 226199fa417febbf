package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"refund-insights-service/internal/models"
)

// SessionRepository handles database operations for shop sessions
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByShop retrieves the offline session for a shop
func (r *SessionRepository) GetByShop(ctx context.Context, shop string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("shop = ? AND is_online = ?", shop, false).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSessions retrieves every installed shop's offline session,
// skipping expired ones. Used by the scheduled sync to enumerate shops.
func (r *SessionRepository) GetActiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("is_online = ?", false).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&sessions).Error
	return sessions, err
}

// DeleteByShop removes all sessions for a shop (APP_UNINSTALLED)
func (r *SessionRepository) DeleteByShop(ctx context.Context, shop string) error {
	return r.db.WithContext(ctx).Where("shop = ?", shop).Delete(&models.Session{}).Error
}
