package app

import (
	"sync"
	"sync/atomic"

	"community_chat_service/internal/realtime/domain"
)

// Subscription 單一訂閱者, 有自己的 bounded buffer
// buffer 滿時丟掉最舊的一筆, 不會阻塞 publisher 或其他訂閱者
type Subscription struct {
	id    uint64
	scope string
	bus   *Bus

	mu      sync.Mutex
	closed  bool
	ch      chan domain.Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newSubscription(id uint64, scope string, size int, bus *Bus) *Subscription {
	return &Subscription{
		id:    id,
		scope: scope,
		bus:   bus,
		ch:    make(chan domain.Event, size),
		done:  make(chan struct{}),
	}
}

// Events 事件 channel, Close 後會被關閉
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Done closed after Close
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Scope subscribed scope
func (s *Subscription) Scope() string {
	return s.scope
}

// Dropped 因 buffer 滿被丟掉的事件數
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close 取消訂閱, 可重複呼叫
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		close(s.done)
	})
}

func (s *Subscription) push(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
		}

		// drop oldest
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
