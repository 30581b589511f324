// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"container/heap"
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// entry is a stored secret. index is its position in the expiry heap.
type entry struct {
	key       string
	value     url.Values
	expiresAt time.Time
	index     int
}

// expiryQueue is a min-heap of entries ordered by expiresAt.
type expiryQueue []*entry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }
func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// MemoryStorage implements Store with an in-process map.
//
// Entries are additionally indexed by a min-heap on expiry time, so the
// sweep only ever looks at the front of the heap and stays correct when
// entries carry different TTLs. The sweep runs on every access and from a
// background loop; the single mutex makes Pop's check-and-delete atomic.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]*entry
	queue   expiryQueue

	clock clockwork.Clock

	// cleanupInterval is how often the background cleanup runs
	cleanupInterval time.Duration

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}

	closeOnce sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithClock sets the clock used for expiry decisions.
func WithClock(clock clockwork.Clock) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.clock = clock
	}
}

// NewMemoryStorage creates a new MemoryStorage and starts the background
// cleanup goroutine. Close must be called to stop it.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		entries:         make(map[string]*entry),
		clock:           clockwork.NewRealClock(),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Set implements Store.
func (s *MemoryStorage) Set(_ context.Context, key string, value url.Values, ttl time.Duration) error {
	if err := validateSet(key, ttl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweepLocked(now)

	expiresAt := now.Add(ttl)
	if e, ok := s.entries[key]; ok {
		e.value = cloneValues(value)
		e.expiresAt = expiresAt
		heap.Fix(&s.queue, e.index)
		return nil
	}

	e := &entry{key: key, value: cloneValues(value), expiresAt: expiresAt}
	heap.Push(&s.queue, e)
	s.entries[key] = e
	return nil
}

// Pop implements Store.
func (s *MemoryStorage) Pop(_ context.Context, key string) (url.Values, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.clock.Now())

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	delete(s.entries, key)
	heap.Remove(&s.queue, e.index)
	return e.value, true
}

// Get implements Store.
func (s *MemoryStorage) Get(_ context.Context, key string) (url.Values, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.clock.Now())

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return cloneValues(e.value), true
}

// Len returns the number of live entries.
func (s *MemoryStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.clock.Now())
	return len(s.entries)
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

// sweepLocked drops every entry whose expiry is not after now.
// An entry expiring exactly at now is already gone. Caller holds s.mu.
func (s *MemoryStorage) sweepLocked(now time.Time) int {
	removed := 0
	for s.queue.Len() > 0 && !s.queue[0].expiresAt.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		delete(s.entries, e.key)
		removed++
	}
	return removed
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			removed := s.sweepLocked(s.clock.Now())
			s.mu.Unlock()
			if removed > 0 {
				slog.Debug("swept expired handshake secrets", "count", removed)
			}
		}
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStorage)(nil)
