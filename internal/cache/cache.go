// Package cache implements the fast queue projection: per-queue FIFO lists
// of poppable items and sets mirroring full durable membership. It is never
// the source of truth; the queuesync package can rebuild it from the store
// at any time, so divergence is recoverable, not a correctness failure.
//
// One store-wide mutex makes every operation atomic, including the
// multi-queue PopFirstNonEmpty that replaces the original implementation's
// server-side pop script: "find first nonempty eligible queue and pop its
// head" happens under a single lock so two annotators can never receive the
// same item.
package cache

import (
	"fmt"
	"sync"
)

// QueueKey names the FIFO list of poppable items for a queue.
func QueueKey(queueID int64) string {
	return fmt.Sprintf("queue:%d", queueID)
}

// SetKey names the set mirroring a queue's full durable membership.
func SetKey(queueID int64) string {
	return fmt.Sprintf("set:%d", queueID)
}

// Store is an in-process key/value cache with atomic list and set
// operations. The zero value is not usable; call New.
type Store struct {
	mu    sync.Mutex
	lists map[string][]int64
	sets  map[string]map[int64]struct{}
}

// New constructs an empty cache store. It is created once at startup and
// passed by reference to every component; there is no hidden global.
func New() *Store {
	return &Store{
		lists: make(map[string][]int64),
		sets:  make(map[string]map[int64]struct{}),
	}
}

// PushBack appends items to the tail of a list (fill order).
func (s *Store) PushBack(key string, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], ids...)
}

// PushFront inserts an item at the head of a list. Unassign uses this so
// recently vacated work is served next.
func (s *Store) PushFront(key string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]int64{id}, s.lists[key]...)
}

// PopHead removes and returns the head of a list.
func (s *Store) PopHead(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popHeadLocked(key)
}

func (s *Store) popHeadLocked(key string) (int64, bool) {
	list := s.lists[key]
	if len(list) == 0 {
		return 0, false
	}
	head := list[0]
	s.lists[key] = list[1:]
	return head, true
}

// PopFirstNonEmpty scans keys in priority order and pops the head of the
// first nonempty list, all under one lock.
func (s *Store) PopFirstNonEmpty(keys []string) (string, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if id, ok := s.popHeadLocked(key); ok {
			return key, id, true
		}
	}
	return "", 0, false
}

// ListMembers returns a copy of a list in order.
func (s *Store) ListMembers(key string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	out := make([]int64, len(list))
	copy(out, list)
	return out
}

// ListLen returns the length of a list.
func (s *Store) ListLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key])
}

// RemoveFromList deletes every occurrence of an item from a list. Missing
// items are tolerated: a popped item is already gone from the list when its
// membership is cleaned up.
func (s *Store) RemoveFromList(key string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	filtered := list[:0]
	for _, v := range list {
		if v != id {
			filtered = append(filtered, v)
		}
	}
	s.lists[key] = filtered
}

// SAdd inserts members into a set.
func (s *Store) SAdd(key string, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	if set == nil {
		set = make(map[int64]struct{}, len(ids))
		s.sets[key] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// SRem removes a member from a set.
func (s *Store) SRem(key string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[key], id)
}

// SMembers returns the members of a set in unspecified order.
func (s *Store) SMembers(key string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SContains reports set membership.
func (s *Store) SContains(key string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][id]
	return ok
}

// SCard returns the cardinality of a set.
func (s *Store) SCard(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[key])
}

// DeleteKey removes a list and set stored under key.
func (s *Store) DeleteKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	delete(s.sets, key)
}

// Flush clears every key. Rebuild starts from here.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = make(map[string][]int64)
	s.sets = make(map[string]map[int64]struct{})
}
