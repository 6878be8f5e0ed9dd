package app

import (
	"sort"
	"time"

	"community_chat_service/internal/realtime/domain"
)

// sequencer 讓同一房間的 message.created 依 seq 送出
// 重複或過期的 seq 直接丟棄, 缺號時最多保留 hold 時間後跳過
type sequencer struct {
	next  int64
	held  map[int64]domain.Event
	timer *time.Timer
}

func newSequencer() *sequencer {
	return &sequencer{held: make(map[int64]domain.Event)}
}

// accept 回傳可以依序送出的事件
func (q *sequencer) accept(ev domain.Event) []domain.Event {
	seq := ev.Message.Seq
	if q.next == 0 {
		q.next = seq
	}

	switch {
	case seq < q.next:
		return nil
	case seq == q.next:
		q.next++
		return append([]domain.Event{ev}, q.drain()...)
	default:
		if _, ok := q.held[seq]; !ok {
			q.held[seq] = ev
		}
		return nil
	}
}

// flush 跳過目前的缺號, 送出下一段連續的事件
func (q *sequencer) flush() []domain.Event {
	if len(q.held) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(q.held))
	for k := range q.held {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	q.next = keys[0]
	return q.drain()
}

func (q *sequencer) drain() []domain.Event {
	var out []domain.Event
	for {
		ev, ok := q.held[q.next]
		if !ok {
			return out
		}
		delete(q.held, q.next)
		out = append(out, ev)
		q.next++
	}
}

func (q *sequencer) pending() int {
	return len(q.held)
}

func (q *sequencer) stop() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
