// Package client 通知的 client 端狀態: 已讀、提示音、彈窗
// 已讀只存在本機, 不同裝置之間不同步
package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"community_chat_service/internal/notification/domain"
)

const defaultSeenLimit = 1000

// Alert 收到通知後要做的事
type Alert struct {
	Notification domain.Notification
	Popup        bool
	Sound        bool
}

// LocalReadState 存檔格式
type LocalReadState struct {
	SoundEnabled bool     `json:"sound_enabled"`
	LastSeenID   uint64   `json:"last_seen_id"`
	Seen         []uint64 `json:"seen"`
	Read         []uint64 `json:"read"`
}

// Inbox 單一裝置的通知狀態
type Inbox struct {
	mu        sync.Mutex
	path      string
	limit     int
	sound     bool
	lastSeen  uint64
	seen      map[uint64]struct{}
	read      map[uint64]struct{}
	unreadIDs map[uint64]domain.Notification
}

// NewInbox path 為空時不存檔, sound 預設開啟
func NewInbox(path string) *Inbox {
	return &Inbox{
		path:      path,
		limit:     defaultSeenLimit,
		sound:     true,
		seen:      make(map[uint64]struct{}),
		read:      make(map[uint64]struct{}),
		unreadIDs: make(map[uint64]domain.Notification),
	}
}

// LoadInbox 讀取本機狀態, 檔案不存在時回傳新的 inbox
func LoadInbox(path string) (*Inbox, error) {
	in := NewInbox(path)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return in, nil
	}
	if err != nil {
		return nil, err
	}

	var st LocalReadState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	in.sound = st.SoundEnabled
	in.lastSeen = st.LastSeenID
	for _, id := range st.Seen {
		in.seen[id] = struct{}{}
	}
	for _, id := range st.Read {
		in.read[id] = struct{}{}
	}
	return in, nil
}

// Receive 即時推送與 backlog 補送都經過這裡, 同一個 id 只提示一次
func (in *Inbox) Receive(n domain.Notification) (Alert, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.seen[n.ID]; ok {
		return Alert{}, false
	}
	in.seen[n.ID] = struct{}{}
	if n.ID > in.lastSeen {
		in.lastSeen = n.ID
	}
	in.trim()

	if _, ok := in.read[n.ID]; !ok {
		in.unreadIDs[n.ID] = n
	}
	return Alert{Notification: n, Popup: true, Sound: in.sound}, true
}

// trim 保留最新的 limit 個 id
func (in *Inbox) trim() {
	if len(in.seen) <= in.limit {
		return
	}
	ids := sortedIDs(in.seen)
	for _, id := range ids[:len(ids)-in.limit] {
		delete(in.seen, id)
		delete(in.read, id)
	}
}

// MarkRead 標記已讀
func (in *Inbox) MarkRead(id uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.read[id] = struct{}{}
	delete(in.unreadIDs, id)
}

// MarkAllRead 全部已讀
func (in *Inbox) MarkAllRead() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for id := range in.unreadIDs {
		in.read[id] = struct{}{}
	}
	in.unreadIDs = make(map[uint64]domain.Notification)
}

// IsRead read marker
func (in *Inbox) IsRead(id uint64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.read[id]
	return ok
}

// Unread 本次執行收到且未讀的通知, 依 id 升序
func (in *Inbox) Unread() []domain.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]domain.Notification, 0, len(in.unreadIDs))
	for _, n := range in.unreadIDs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetSound 提示音開關
func (in *Inbox) SetSound(enabled bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.sound = enabled
}

// SoundEnabled sound toggle
func (in *Inbox) SoundEnabled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sound
}

// LastSeenID 重連時當作 sinceId
func (in *Inbox) LastSeenID() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastSeen
}

// Save 寫入本機檔案, 先寫暫存檔再 rename
func (in *Inbox) Save() error {
	if in.path == "" {
		return nil
	}

	in.mu.Lock()
	st := LocalReadState{
		SoundEnabled: in.sound,
		LastSeenID:   in.lastSeen,
		Seen:         sortedIDs(in.seen),
		Read:         sortedIDs(in.read),
	}
	in.mu.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(in.path), 0755); err != nil {
		return err
	}
	tmp := in.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, in.path)
}

func sortedIDs(m map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
