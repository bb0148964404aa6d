package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestStarPrefetchesBody(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	c := New(f)
	sel := NewSelection(c, 2, &tickClock{}, nil)

	err := <-sel.Star(Item{Link: "https://x/1", Title: "一"})
	require.NoError(t, err)
	_, ok := c.Get("https://x/1")
	require.True(t, ok)
	require.True(t, sel.IsStarred("https://x/1"))
	require.NoError(t, sel.Close(context.Background()))
}

func TestStarReportsPrefetchFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("gone")
	sel := NewSelection(New(&countingFetcher{fail: map[string]error{"bad": boom}}), 1, nil, nil)

	require.ErrorIs(t, <-sel.Star(Item{Link: "bad"}), boom)
	require.True(t, sel.IsStarred("bad"))
	require.NoError(t, sel.Close(context.Background()))
}

func TestSelectionOrderAndUnstar(t *testing.T) {
	t.Parallel()

	c := New(&countingFetcher{})
	sel := NewSelection(c, 4, &tickClock{}, nil)
	<-sel.Star(Item{Link: "b"})
	<-sel.Star(Item{Link: "a"})
	<-sel.Star(Item{Link: "b", Title: "restarred"})

	items := sel.Items()
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].Link)
	require.Equal(t, "restarred", items[0].Title)
	require.Equal(t, "a", items[1].Link)

	require.True(t, sel.Unstar("b"))
	require.False(t, sel.Unstar("b"))
	require.Len(t, sel.Items(), 1)
	_, cached := c.Get("b")
	require.True(t, cached)
	require.NoError(t, sel.Close(context.Background()))
}

func TestSelectionCloseCancelsOnDeadline(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{release: make(chan struct{})}
	sel := NewSelection(New(f), 1, nil, nil)
	done := sel.Star(Item{Link: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sel.Close(ctx), context.DeadlineExceeded)
	require.Error(t, <-done)
}

func TestStarAfterCloseIsRejected(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	sel := NewSelection(New(f), 2, nil, nil)
	require.NoError(t, sel.Close(context.Background()))

	require.ErrorIs(t, <-sel.Star(Item{Link: "late"}), ErrSelectionClosed)
	require.False(t, sel.IsStarred("late"))
	require.Zero(t, f.calls.Load())
}

func TestStarConcurrentWithClose(t *testing.T) {
	t.Parallel()

	sel := NewSelection(New(&countingFetcher{}), 4, nil, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- <-sel.Star(Item{Link: fmt.Sprintf("https://x/%d", i)})
		}()
	}
	require.NoError(t, sel.Close(context.Background()))
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrSelectionClosed)
		}
	}
}
