package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"community_chat_service/internal/notification/domain"
	"community_chat_service/internal/notification/repository"
)

var errStoreDown = errors.New("connection refused")

// memNotificationRepo 取代 postgres, failures > 0 時前幾次 Create 失敗
type memNotificationRepo struct {
	mu       sync.Mutex
	nextID   uint64
	rows     map[uint64]domain.Notification
	byKey    map[string]uint64
	down     bool
	failures int
}

var _ repository.NotificationRepository = (*memNotificationRepo)(nil)

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{rows: map[uint64]domain.Notification{}, byKey: map[string]uint64{}}
}

func (r *memNotificationRepo) AutoMigrate() error { return nil }

func (r *memNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	if r.failures > 0 {
		r.failures--
		return errStoreDown
	}
	if n.DedupKey != nil {
		if _, ok := r.byKey[*n.DedupKey]; ok {
			return domain.ErrDuplicateKey
		}
	}
	r.nextID++
	n.ID = r.nextID
	r.rows[n.ID] = *n
	if n.DedupKey != nil {
		r.byKey[*n.DedupKey] = n.ID
	}
	return nil
}

func (r *memNotificationRepo) FindByDedupKey(ctx context.Context, key string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	n := r.rows[id]
	return &n, nil
}

func (r *memNotificationRepo) ListFor(ctx context.Context, userID string, sinceID uint64, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	var out []domain.Notification
	for _, n := range r.rows {
		if n.ID <= sinceID || !n.IsActive {
			continue
		}
		if n.TargetUserID == userID || n.IsBroadcast() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memNotificationRepo) Deactivate(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.IsActive = false
	r.rows[id] = n
	return nil
}

func (r *memNotificationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memNotificationRepo) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}
