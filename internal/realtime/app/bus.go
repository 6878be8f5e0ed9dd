package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg"
	"community_chat_service/pkg/config"
	errprocess "community_chat_service/pkg/err"
	"community_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBufferSize = 64

// Transport 跨 node 的 pub/sub (redis)
type Transport interface {
	Publish(ctx context.Context, ev domain.Event) error
	// Run 阻塞接收其他 node 的事件, ctx 結束或連線中斷時返回
	Run(ctx context.Context, deliver func(domain.Event)) error
}

// Bus 事件匯流排
// 同一個 scope 的派送在同一把分段鎖下進行, 所有訂閱者看到的順序一致
type Bus struct {
	nodeID      string
	bufferSize  int
	holdTimeout time.Duration
	transport   Transport

	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID atomic.Uint64

	scopeLocks pkg.KeyedMutex
	seqMu      sync.Mutex
	sequencers map[string]*sequencer
}

// NewBus create bus, transport 為 nil 時只在本機派送
func NewBus(nodeID string, cfg config.BusConfig, transport Transport) *Bus {
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Bus{
		nodeID:      nodeID,
		bufferSize:  cfg.BufferSize,
		holdTimeout: cfg.HoldTimeout,
		transport:   transport,
		subs:        make(map[string]map[uint64]*Subscription),
		sequencers:  make(map[string]*sequencer),
	}
}

// NodeID bus node id
func (b *Bus) NodeID() string {
	return b.nodeID
}

// Subscribe 訂閱 scope, ctx 結束時自動取消
func (b *Bus) Subscribe(ctx context.Context, scope string) *Subscription {
	s := newSubscription(b.nextID.Add(1), scope, b.bufferSize, b)

	b.mu.Lock()
	m, ok := b.subs[scope]
	if !ok {
		m = make(map[uint64]*Subscription)
		b.subs[scope] = m
	}
	m[s.id] = s
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	logger.Log.Debug("bus subscribe", zap.String("scope", scope), zap.Uint64("sub", s.id))
	return s
}

// SubscriberCount current subscribers of scope
func (b *Bus) SubscriberCount(scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[scope])
}

// Publish 派送給本機訂閱者, 再經 transport 送到其他 node
// 本機派送不會失敗, transport 失敗回傳 ErrTransportDisconnected
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	if ev.Scope == "" || ev.Type == "" {
		return domain.ErrInvalidEvent
	}
	if ev.Type == domain.EventMessageCreated && ev.Message == nil {
		return domain.ErrInvalidEvent
	}
	if ev.Origin == "" {
		ev.Origin = b.nodeID
	}

	b.dispatch(ev)

	if b.transport == nil {
		return nil
	}
	if err := b.transport.Publish(ctx, ev); err != nil {
		return errprocess.Wrap(domain.ErrTransportDisconnected, "bus publish", err)
	}
	return nil
}

// Run relay 其他 node 的事件, 連線中斷時重連直到 ctx 結束
func (b *Bus) Run(ctx context.Context) {
	if b.transport == nil {
		<-ctx.Done()
		return
	}

	for {
		err := b.transport.Run(ctx, b.receive)
		if ctx.Err() != nil {
			return
		}
		logger.Log.Warn("bus relay stopped, reconnecting", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *Bus) receive(ev domain.Event) {
	if ev.Origin == b.nodeID {
		return
	}
	b.dispatch(ev)
}

func (b *Bus) dispatch(ev domain.Event) {
	unlock := b.scopeLocks.Lock(ev.Scope)
	defer unlock()

	subs := b.snapshot(ev.Scope)
	if len(subs) == 0 {
		return
	}

	if ev.Type != domain.EventMessageCreated || ev.Message == nil {
		deliver(subs, ev)
		return
	}

	q := b.sequencerFor(ev.Scope)
	for _, e := range q.accept(ev) {
		deliver(subs, e)
	}
	b.armHold(ev.Scope, q)
}

func deliver(subs []*Subscription, ev domain.Event) {
	for _, s := range subs {
		s.push(ev)
	}
}

func (b *Bus) snapshot(scope string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := b.subs[scope]
	out := make([]*Subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func (b *Bus) sequencerFor(scope string) *sequencer {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	q, ok := b.sequencers[scope]
	if !ok {
		q = newSequencer()
		b.sequencers[scope] = q
	}
	return q
}

// armHold 呼叫時需持有 scope lock
func (b *Bus) armHold(scope string, q *sequencer) {
	if q.pending() == 0 {
		q.stop()
		return
	}
	if q.timer != nil {
		return
	}
	q.timer = time.AfterFunc(b.holdTimeout, func() {
		b.flushHeld(scope, q)
	})
}

func (b *Bus) flushHeld(scope string, q *sequencer) {
	unlock := b.scopeLocks.Lock(scope)
	defer unlock()

	b.seqMu.Lock()
	current := b.sequencers[scope]
	b.seqMu.Unlock()
	if current != q {
		return
	}

	q.timer = nil
	ready := q.flush()
	logger.Log.Debug("bus sequence gap skipped", zap.String("scope", scope), zap.Int("released", len(ready)))

	subs := b.snapshot(scope)
	for _, e := range ready {
		deliver(subs, e)
	}
	b.armHold(scope, q)
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	m := b.subs[s.scope]
	delete(m, s.id)
	empty := len(m) == 0
	if empty {
		delete(b.subs, s.scope)
	}
	b.mu.Unlock()

	if !empty {
		return
	}

	// 沒有訂閱者就不保留排序狀態
	unlock := b.scopeLocks.Lock(s.scope)
	defer unlock()
	if b.SubscriberCount(s.scope) > 0 {
		return
	}
	b.seqMu.Lock()
	if q, ok := b.sequencers[s.scope]; ok {
		q.stop()
		delete(b.sequencers, s.scope)
	}
	b.seqMu.Unlock()
}
