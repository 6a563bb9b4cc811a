package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequentialIDs hands out the given ids in order, then fresh numbered ones.
func sequentialIDs(ids ...string) func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1], nil
		}
		return fmt.Sprintf("id%09d", n), nil
	}
}

func TestMemoryLinkTableCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := NewMemoryLinkTable(LinkOptions{Now: clock.Now})

	link, err := table.Create(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.True(t, IsShortID(link.ShortID))
	assert.Equal(t, "dQw4w9WgXcQ", link.VideoID)
	assert.Equal(t, int64(0), link.Visits)

	clock.Advance(time.Hour)
	got, err := table.Resolve(ctx, link.ShortID)
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", got.VideoID)
	assert.Equal(t, int64(1), got.Visits)
	assert.Equal(t, clock.Now(), got.LastAccess)

	got, err = table.Resolve(ctx, link.ShortID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Visits)
}

func TestMemoryLinkTableUnknownID(t *testing.T) {
	table := NewMemoryLinkTable(LinkOptions{})

	_, err := table.Resolve(context.Background(), "AAAAAAAAAAA")
	assert.True(t, errors.Is(err, ErrLinkNotFound))
}

func TestMemoryLinkTableGetDoesNotTouch(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := NewMemoryLinkTable(LinkOptions{Now: clock.Now})

	link, err := table.Create(ctx, "abc")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	got, err := table.Get(ctx, link.ShortID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Visits)
	assert.Equal(t, link.LastAccess, got.LastAccess)
}

func TestMemoryLinkTableSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := NewMemoryLinkTable(LinkOptions{Now: clock.Now, TTL: 24 * time.Hour})

	link, err := table.Create(ctx, "abc")
	require.NoError(t, err)

	// each access shifts the deadline
	for i := 0; i < 3; i++ {
		clock.Advance(23 * time.Hour)
		_, err = table.Resolve(ctx, link.ShortID)
		require.NoError(t, err)
	}

	clock.Advance(24*time.Hour + time.Second)
	_, err = table.Resolve(ctx, link.ShortID)
	assert.True(t, errors.Is(err, ErrLinkNotFound))
	assert.Equal(t, 0, table.Len())
}

func TestMemoryLinkTableSweepOnCreate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := NewMemoryLinkTable(LinkOptions{Now: clock.Now})

	for i := 0; i < 5; i++ {
		_, err := table.Create(ctx, fmt.Sprintf("old%d", i))
		require.NoError(t, err)
	}
	clock.Advance(25 * time.Hour)
	fresh, err := table.Create(ctx, "new")
	require.NoError(t, err)

	assert.Equal(t, 1, table.Len())
	got, err := table.Get(ctx, fresh.ShortID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.VideoID)
}

func TestMemoryLinkTableEvictsOldestAtCapacity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := NewMemoryLinkTable(LinkOptions{
		Capacity: 3,
		Now:      clock.Now,
		NewID:    sequentialIDs("AAAAAAAAAAA", "BBBBBBBBBBB", "CCCCCCCCCCC", "DDDDDDDDDDD"),
	})

	for _, v := range []string{"a", "b", "c"} {
		_, err := table.Create(ctx, v)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	// touching A makes B the oldest
	_, err := table.Resolve(ctx, "AAAAAAAAAAA")
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = table.Create(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	_, err = table.Get(ctx, "BBBBBBBBBBB")
	assert.True(t, errors.Is(err, ErrLinkNotFound))
	for _, id := range []string{"AAAAAAAAAAA", "CCCCCCCCCCC", "DDDDDDDDDDD"} {
		_, err = table.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestMemoryLinkTableNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryLinkTable(LinkOptions{})

	first, err := table.Create(ctx, "v0")
	require.NoError(t, err)
	for i := 1; i < DefaultLinkCapacity; i++ {
		_, err := table.Create(ctx, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
	}
	_, err = table.Get(ctx, first.ShortID)
	require.NoError(t, err)

	_, err = table.Create(ctx, "overflow")
	require.NoError(t, err)
	assert.Equal(t, DefaultLinkCapacity, table.Len())
	_, err = table.Get(ctx, first.ShortID)
	assert.True(t, errors.Is(err, ErrLinkNotFound))

	for i := 0; i < 250; i++ {
		_, err := table.Create(ctx, fmt.Sprintf("w%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultLinkCapacity, table.Len())
}

func TestMemoryLinkTableRegeneratesOnCollision(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryLinkTable(LinkOptions{
		NewID: sequentialIDs("AAAAAAAAAAA", "AAAAAAAAAAA", "AAAAAAAAAAA", "BBBBBBBBBBB"),
	})

	first, err := table.Create(ctx, "one")
	require.NoError(t, err)
	second, err := table.Create(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAAAAA", first.ShortID)
	assert.Equal(t, "BBBBBBBBBBB", second.ShortID)

	got, err := table.Get(ctx, "AAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "one", got.VideoID)
}

func TestMemoryLinkTableIDSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryLinkTable(LinkOptions{
		NewID: func() (string, error) { return "AAAAAAAAAAA", nil },
	})

	_, err := table.Create(ctx, "one")
	require.NoError(t, err)
	_, err = table.Create(ctx, "two")
	assert.True(t, errors.Is(err, ErrIDSpaceExhausted))
}

func TestMemoryLinkTableConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryLinkTable(LinkOptions{Capacity: 50})

	link, err := table.Create(ctx, "shared")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = table.Create(ctx, fmt.Sprintf("v%d-%d", i, j))
				_, _ = table.Resolve(ctx, link.ShortID)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, table.Len(), 50)
}
