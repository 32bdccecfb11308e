package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	attempts    int
	windowStart time.Time
	length      time.Duration
}

// MemoryStore keeps windows in a process-local map. Best-effort only in a
// multi-instance deployment; use RedisStore when exact shared counts matter.
// The map is bounded: expired entries are evicted lazily and by a janitor
// loop, and when the cap is still exceeded the oldest window goes first.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string]*window
	maxEntries int
	now        func() time.Time
	done       chan struct{}
}

const defaultMaxEntries = 10000

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	s := &MemoryStore{
		windows:    make(map[string]*window),
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, length time.Duration) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.windowStart) > length {
		if !ok && len(s.windows) >= s.maxEntries {
			s.evictLocked(now)
		}
		s.windows[key] = &window{attempts: 1, windowStart: now, length: length}
		return true, limit - 1, now.Add(length), nil
	}

	reset := w.windowStart.Add(length)
	if w.attempts >= limit {
		return false, 0, reset, nil
	}

	w.attempts++
	return true, limit - w.attempts, reset, nil
}

// evictLocked frees space for one more entry: expired windows first, then the
// oldest live one.
func (s *MemoryStore) evictLocked(now time.Time) {
	var oldestKey string
	var oldestStart time.Time
	for key, w := range s.windows {
		if now.Sub(w.windowStart) > w.length {
			delete(s.windows, key)
			continue
		}
		if oldestKey == "" || w.windowStart.Before(oldestStart) {
			oldestKey = key
			oldestStart = w.windowStart
		}
	}
	if len(s.windows) >= s.maxEntries && oldestKey != "" {
		delete(s.windows, oldestKey)
	}
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, w := range s.windows {
				if now.Sub(w.windowStart) > w.length {
					delete(s.windows, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Close() {
	close(s.done)
}
