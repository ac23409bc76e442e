package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

const presenceShards = 32

type presenceShard struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

// MemoryPresence is a process-local presence store. Users are spread over
// independently locked shards.
type MemoryPresence struct {
	shards [presenceShards]presenceShard
}

func NewMemoryPresence() *MemoryPresence {
	p := &MemoryPresence{}
	for i := range p.shards {
		p.shards[i].users = make(map[string]map[string]struct{})
	}
	return p
}

func (p *MemoryPresence) shard(userID string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &p.shards[h.Sum32()%presenceShards]
}

func (p *MemoryPresence) AddSession(_ context.Context, userID, sessionID string) (bool, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, ok := s.users[userID]
	if !ok {
		sessions = make(map[string]struct{})
		s.users[userID] = sessions
	}
	if _, dup := sessions[sessionID]; dup {
		return false, nil
	}
	sessions[sessionID] = struct{}{}
	return len(sessions) == 1, nil
}

func (p *MemoryPresence) RemoveSession(_ context.Context, userID, sessionID string) (bool, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	if _, present := sessions[sessionID]; !present {
		return false, nil
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(s.users, userID)
		return true, nil
	}
	return false, nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[userID]) > 0, nil
}

func (p *MemoryPresence) SessionsOf(_ context.Context, userID string) ([]string, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users[userID]))
	for id := range s.users[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// MemoryLedger is a process-local insert-if-absent key set.
type MemoryLedger struct {
	keys sync.Map
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) InsertIfAbsent(_ context.Context, key string) (bool, error) {
	_, loaded := l.keys.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

func (l *MemoryLedger) Contains(_ context.Context, key string) (bool, error) {
	_, ok := l.keys.Load(key)
	return ok, nil
}

func (l *MemoryLedger) ClearPrefix(_ context.Context, prefix string, match func(string) bool) (int, error) {
	cleared := 0
	l.keys.Range(func(k, _ interface{}) bool {
		key, ok := k.(string)
		if !ok || !strings.HasPrefix(key, prefix) {
			return true
		}
		if match == nil || match(key) {
			l.keys.Delete(k)
			cleared++
		}
		return true
	})
	return cleared, nil
}

// MemoryCounter keeps unread counters in process.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) IncrUnread(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

func (c *MemoryCounter) ResetUnread(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.counts, userID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCounter) Unread(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID], nil
}

// MemoryQueue is a process-local offline queue with the same FIFO and
// idempotent-enqueue behaviour as OfflineQueue.
type MemoryQueue struct {
	mu         sync.Mutex
	seq        uint64
	maxPerUser int
	entries    map[string][]models.QueuedNotification
}

func NewMemoryQueue(maxPerUser int) *MemoryQueue {
	return &MemoryQueue{
		maxPerUser: maxPerUser,
		entries:    make(map[string][]models.QueuedNotification),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, event models.NotificationEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.entries[event.UserID]
	for _, e := range pending {
		if e.Event.ID == event.ID {
			return nil
		}
	}
	q.seq++
	pending = append(pending, models.QueuedNotification{Seq: q.seq, Event: event})
	if q.maxPerUser > 0 && len(pending) > q.maxPerUser {
		pending = append([]models.QueuedNotification(nil), pending[len(pending)-q.maxPerUser:]...)
	}
	q.entries[event.UserID] = pending
	return nil
}

func (q *MemoryQueue) Peek(_ context.Context, userID string, limit int) ([]models.QueuedNotification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.entries[userID]
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return append([]models.QueuedNotification(nil), pending...), nil
}

func (q *MemoryQueue) Remove(_ context.Context, userID string, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	drop := make(map[uint64]struct{}, len(seqs))
	for _, s := range seqs {
		drop[s] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.entries[userID][:0]
	for _, e := range q.entries[userID] {
		if _, ok := drop[e.Seq]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(q.entries, userID)
		return nil
	}
	q.entries[userID] = kept
	return nil
}

func (q *MemoryQueue) Len(_ context.Context, userID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries[userID])), nil
}
