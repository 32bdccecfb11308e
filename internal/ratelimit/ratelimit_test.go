package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestStore() (*MemoryStore, *time.Time) {
	s := NewMemoryStore(100)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestLimiterFixedWindow(t *testing.T) {
	store, now := newTestStore()
	defer store.Close()

	limiter := NewLimiter(store, map[Action]Policy{
		ActionChatMessage: {MaxRequests: 5, Window: time.Minute},
	}, zerolog.Nop())

	ctx := context.Background()

	t.Run("Sixth request within the window is denied", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			res := limiter.Check(ctx, "user-1", ActionChatMessage)
			assert.True(t, res.Allowed, "request %d should pass", i+1)
			assert.Equal(t, 4-i, res.Remaining)
		}
		res := limiter.Check(ctx, "user-1", ActionChatMessage)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, now.Add(time.Minute), res.ResetTime)
	})

	t.Run("Counter resets after the window elapses", func(t *testing.T) {
		*now = now.Add(2 * time.Minute)
		res := limiter.Check(ctx, "user-1", ActionChatMessage)
		assert.True(t, res.Allowed)
		assert.Equal(t, 4, res.Remaining, "fresh window starts at attempts = 1")
	})

	t.Run("Keys are independent per user and action", func(t *testing.T) {
		res := limiter.Check(ctx, "user-2", ActionChatMessage)
		assert.True(t, res.Allowed)
		assert.Equal(t, 4, res.Remaining)
	})
}

func TestLimiterUnknownAction(t *testing.T) {
	store, _ := newTestStore()
	defer store.Close()

	limiter := NewLimiter(store, map[Action]Policy{}, zerolog.Nop())
	res := limiter.Check(context.Background(), "user-1", Action("bogus"))
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.Error)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("store down")
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, nil, zerolog.Nop())
	res := limiter.Check(context.Background(), "user-1", ActionChatMessage)
	assert.True(t, res.Allowed, "store failure must not block traffic")
	assert.NotEmpty(t, res.Error)
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(3)
	defer s.Close()
	now := time.Now()
	s.now = func() time.Time { return now }

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, _, _, err := s.Hit(ctx, key, 5, time.Minute)
		assert.NoError(t, err)
	}
	// map is at capacity; a new key must evict rather than grow
	_, _, _, err := s.Hit(ctx, "d", 5, time.Minute)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(s.windows), 3)
}
