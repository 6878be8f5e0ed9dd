package app

import (
	"context"
	"errors"
	"time"

	"community_chat_service/internal/presence/domain"
	"community_chat_service/internal/presence/repository"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// ErrInvalidScope empty user or scope
var ErrInvalidScope = errors.New("invalid presence scope")

// EventPublisher presence.changed 發送對象 (event bus)
type EventPublisher interface {
	Publish(ctx context.Context, ev rtdomain.Event) error
}

// Tracker presence tracker
// online = now - lastSeen < grace, 錯過一次 heartbeat 不會變成離線
type Tracker struct {
	repo     repository.PresenceRepository
	pub      EventPublisher
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewTracker create tracker, grace 未設定時為 interval 的 3 倍
func NewTracker(repo repository.PresenceRepository, pub EventPublisher, cfg config.PresenceConfig) *Tracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 3 * cfg.HeartbeatInterval
	}
	return &Tracker{
		repo:     repo,
		pub:      pub,
		interval: cfg.HeartbeatInterval,
		grace:    cfg.GraceWindow,
		now:      time.Now,
	}
}

// SetClock 測試用, 替換目前時間來源
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// GraceWindow configured grace window
func (t *Tracker) GraceWindow() time.Duration {
	return t.grace
}

// HeartbeatInterval configured heartbeat interval
func (t *Tracker) HeartbeatInterval() time.Duration {
	return t.interval
}

// Join 註冊一條連線, 原本不在線時發出 join
func (t *Tracker) Join(ctx context.Context, userID, scope string) error {
	if userID == "" || scope == "" {
		return ErrInvalidScope
	}

	if err := t.repo.Attach(ctx, userID, scope); err != nil {
		logger.Log.Error("presence attach", zap.String("user", userID), zap.String("scope", scope), zap.Error(err))
		return err
	}
	return t.touch(ctx, userID, scope)
}

// Heartbeat 更新 last seen, 已過期或不存在時視為重新 join
func (t *Tracker) Heartbeat(ctx context.Context, userID, scope string) error {
	if userID == "" || scope == "" {
		return ErrInvalidScope
	}
	return t.touch(ctx, userID, scope)
}

func (t *Tracker) touch(ctx context.Context, userID, scope string) error {
	now := t.now()
	prev, err := t.repo.Touch(ctx, userID, scope, now)
	if err != nil {
		logger.Log.Error("presence touch", zap.String("user", userID), zap.String("scope", scope), zap.Error(err))
		return err
	}
	if !t.fresh(prev, now) {
		t.emit(ctx, userID, scope, true, now)
	}
	return nil
}

// Leave 關閉一條連線, 所有 node 都沒有這個 user 的連線時才移除並發出 leave
func (t *Tracker) Leave(ctx context.Context, userID, scope string) error {
	if userID == "" || scope == "" {
		return ErrInvalidScope
	}

	removed, err := t.repo.Detach(ctx, userID, scope)
	if err != nil {
		logger.Log.Error("presence remove", zap.String("user", userID), zap.String("scope", scope), zap.Error(err))
		return err
	}
	if removed {
		t.emit(ctx, userID, scope, false, t.now())
	}
	return nil
}

// IsOnline 只讀, 依 last seen 與 grace window 判斷
func (t *Tracker) IsOnline(ctx context.Context, userID, scope string) (bool, error) {
	ls, err := t.repo.LastSeen(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	return t.fresh(ls, t.now()), nil
}

// Online scope 內目前在線的 user
func (t *Tracker) Online(ctx context.Context, scope string) ([]string, error) {
	return t.repo.Active(ctx, scope, t.now().Add(-t.grace).Add(time.Millisecond))
}

// Sweep 移除超過 grace window 的 record, 回傳被移除的數量
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	now := t.now()
	before := now.Add(-t.grace).Add(time.Millisecond)

	stale, err := t.repo.Stale(ctx, before)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range stale {
		removed, err := t.repo.RemoveIfStale(ctx, rec.UserID, rec.Scope, before)
		if err != nil {
			logger.Log.Warn("presence sweep remove", zap.String("user", rec.UserID), zap.String("scope", rec.Scope), zap.Error(err))
			continue
		}
		if !removed {
			continue
		}
		count++
		t.emit(ctx, rec.UserID, rec.Scope, false, now)
	}
	return count, nil
}

// Run 每個 heartbeat interval 執行一次 sweep 直到 ctx 結束
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := t.Sweep(ctx); err != nil {
				logger.Log.Warn("presence sweep", zap.Error(err))
			} else if n > 0 {
				logger.Log.Debug("presence sweep", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// fresh: now - lastSeen < grace
func (t *Tracker) fresh(lastSeen, now time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < t.grace
}

// 發送失敗只記錄, 不影響 presence 狀態
func (t *Tracker) emit(ctx context.Context, userID, scope string, online bool, at time.Time) {
	if t.pub == nil {
		return
	}
	change := &domain.PresenceChange{UserID: userID, Scope: scope, Online: online, At: at.UnixMilli()}
	if err := t.pub.Publish(ctx, rtdomain.PresenceChanged(change)); err != nil {
		logger.Log.Warn("presence publish", zap.String("user", userID), zap.String("scope", scope), zap.Error(err))
	}
}
