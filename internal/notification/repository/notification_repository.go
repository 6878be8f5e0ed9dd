package repository

import (
	"context"
	"errors"

	"community_chat_service/internal/notification/domain"

	"gorm.io/gorm"
)

// NotificationRepository definition notification backlog store
type NotificationRepository interface {
	AutoMigrate() error
	// Create dedup_key 重複時回傳 domain.ErrDuplicateKey
	Create(ctx context.Context, n *domain.Notification) error
	FindByDedupKey(ctx context.Context, key string) (*domain.Notification, error)
	// ListFor user 的通知 + 廣播, id > sinceID 依 id 升序
	ListFor(ctx context.Context, userID string, sinceID uint64, limit int) ([]domain.Notification, error)
	Deactivate(ctx context.Context, id uint64) error
}

// insertLockKey pg advisory lock, 讓 id 依配發順序 commit
// 否則較小的 id 晚 commit 時, 已經前進的 sinceId cursor 會跳過它
const insertLockKey int64 = 0x6e6f7469

type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepo create NotificationRepository
func NewNotificationRepo(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

// AutoMigrate create notifications table
func (r *notificationRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Notification{})
}

// Create insert notification, id 由 db 產生
// 同一時間只有一個 insert 交易持有 lock, 拿到 id 到 commit 之間不會有更大的 id 先出現
func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", insertLockKey).Error; err != nil {
			return err
		}
		return tx.Create(n).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateKey
	}
	return err
}

// FindByDedupKey get notification by dedup key
func (r *notificationRepo) FindByDedupKey(ctx context.Context, key string) (*domain.Notification, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).Where("dedup_key = ?", key).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListFor backlog, id 為主鍵所以不會重複, id 依序 commit 所以 cursor 不會跳號
func (r *notificationRepo) ListFor(ctx context.Context, userID string, sinceID uint64, limit int) ([]domain.Notification, error) {
	var list []domain.Notification
	err := r.db.WithContext(ctx).
		Where("(target_user_id = ? OR target_user_id = '') AND id > ? AND is_active = ?", userID, sinceID, true).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Deactivate 只更新 is_active
func (r *notificationRepo) Deactivate(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}
