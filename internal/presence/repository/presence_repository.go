package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"community_chat_service/internal/presence/domain"
)

// PresenceRepository definition presence record store
// 所有時間以 last seen 為準, online 與否由 tracker 依 grace window 判斷
type PresenceRepository interface {
	// Touch 更新 last seen, 回傳更新前的值 (不存在為 zero time)
	Touch(ctx context.Context, userID, scope string, at time.Time) (time.Time, error)
	LastSeen(ctx context.Context, userID, scope string) (time.Time, error)
	// Attach 連線數 +1, 所有 node 共用同一個計數
	Attach(ctx context.Context, userID, scope string) error
	// Detach 連線數 -1, 歸零時刪除 record, 回傳 true 代表這次呼叫真的刪除了 record
	Detach(ctx context.Context, userID, scope string) (bool, error)
	// RemoveIfStale last seen 早於 before 才刪除, 連線數一併清掉
	RemoveIfStale(ctx context.Context, userID, scope string, before time.Time) (bool, error)
	// Stale 列出 last seen 早於 before 的 record
	Stale(ctx context.Context, before time.Time) ([]domain.Record, error)
	// Active 列出 scope 內 last seen 不早於 since 的 user
	Active(ctx context.Context, scope string, since time.Time) ([]string, error)
}

type memoryPresenceRepository struct {
	mu     sync.RWMutex
	scopes map[string]map[string]time.Time
	conns  map[string]map[string]int
}

// NewMemoryPresenceRepository 單 node 使用
func NewMemoryPresenceRepository() PresenceRepository {
	return &memoryPresenceRepository{
		scopes: make(map[string]map[string]time.Time),
		conns:  make(map[string]map[string]int),
	}
}

func (r *memoryPresenceRepository) Touch(ctx context.Context, userID, scope string, at time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.scopes[scope]
	if !ok {
		users = make(map[string]time.Time)
		r.scopes[scope] = users
	}
	prev := users[userID]
	users[userID] = at
	return prev, nil
}

func (r *memoryPresenceRepository) LastSeen(ctx context.Context, userID, scope string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scopes[scope][userID], nil
}

func (r *memoryPresenceRepository) Attach(ctx context.Context, userID, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.conns[scope]
	if !ok {
		users = make(map[string]int)
		r.conns[scope] = users
	}
	users[userID]++
	return nil
}

func (r *memoryPresenceRepository) Detach(ctx context.Context, userID, scope string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if users, ok := r.conns[scope]; ok && users[userID] > 1 {
		users[userID]--
		return false, nil
	}
	return r.removeLocked(userID, scope), nil
}

func (r *memoryPresenceRepository) RemoveIfStale(ctx context.Context, userID, scope string, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.scopes[scope][userID]
	if !ok || !ls.Before(before) {
		return false, nil
	}
	return r.removeLocked(userID, scope), nil
}

func (r *memoryPresenceRepository) removeLocked(userID, scope string) bool {
	if conns, ok := r.conns[scope]; ok {
		delete(conns, userID)
		if len(conns) == 0 {
			delete(r.conns, scope)
		}
	}

	users, ok := r.scopes[scope]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.scopes, scope)
	}
	return true
}

func (r *memoryPresenceRepository) Stale(ctx context.Context, before time.Time) ([]domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Record
	for scope, users := range r.scopes {
		for user, ls := range users {
			if ls.Before(before) {
				out = append(out, domain.Record{UserID: user, Scope: scope, LastSeen: ls})
			}
		}
	}
	return out, nil
}

func (r *memoryPresenceRepository) Active(ctx context.Context, scope string, since time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []string{}
	for user, ls := range r.scopes[scope] {
		if !ls.Before(since) {
			out = append(out, user)
		}
	}
	sort.Strings(out)
	return out, nil
}
