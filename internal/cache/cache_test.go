package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	memstore "github.com/JakeFAU/epaper-crawler/internal/storage/memory"
)

type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	fail    map[string]error
}

func (f *countingFetcher) FetchBody(ctx context.Context, link string) (crawler.ArticleBody, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return crawler.ArticleBody{}, ctx.Err()
		}
	}
	if err := f.fail[link]; err != nil {
		return crawler.ArticleBody{}, err
	}
	return crawler.ArticleBody{Link: link, Title: "标题 " + link, Paragraphs: []string{"正文"}}, nil
}

func objectPath(link string) string { return "bodies/" + link }

func TestGetOrFetchMemoizes(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	c := New(f)
	ctx := context.Background()

	first, err := c.GetOrFetch(ctx, "a")
	require.NoError(t, err)
	second, err := c.GetOrFetch(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, f.calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{release: make(chan struct{})}
	c := New(f)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), "shared")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.calls.Load())
}

func TestGetOrFetchSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{release: make(chan struct{})}
	c := New(f)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "shared")
		first <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		body, err := c.GetOrFetch(context.Background(), "shared")
		if err == nil && body.Link != "shared" {
			err = errors.New("wrong body")
		}
		second <- err
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)
	close(f.release)
	require.NoError(t, <-second)
	require.EqualValues(t, 1, f.calls.Load())
	_, ok := c.Get("shared")
	require.True(t, ok)
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	f := &countingFetcher{fail: map[string]error{"bad": boom}}
	c := New(f)

	_, err := c.GetOrFetch(context.Background(), "bad")
	require.ErrorIs(t, err, boom)
	_, ok := c.Get("bad")
	require.False(t, ok)

	delete(f.fail, "bad")
	_, err = c.GetOrFetch(context.Background(), "bad")
	require.NoError(t, err)
	require.EqualValues(t, 2, f.calls.Load())
}

func TestGetOrFetchWritesThroughAndReloads(t *testing.T) {
	t.Parallel()

	blob := memstore.NewBlobStore()
	f := &countingFetcher{}
	c := New(f, WithBlobStore(blob, objectPath))

	body, err := c.GetOrFetch(context.Background(), "https://x/1")
	require.NoError(t, err)
	require.Equal(t, "memory://bodies/https://x/1", body.BlobURI)
	require.Equal(t, 1, blob.Len())

	restarted := New(f, WithBlobStore(blob, objectPath))
	again, err := restarted.GetOrFetch(context.Background(), "https://x/1")
	require.NoError(t, err)
	require.Equal(t, body.Title, again.Title)
	require.EqualValues(t, 1, f.calls.Load())
}

type failingBlob struct{}

func (failingBlob) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func (failingBlob) GetObject(context.Context, string) (io.ReadCloser, error) {
	return nil, crawler.ErrObjectNotFound
}

func TestGetOrFetchSurvivesBlobFailure(t *testing.T) {
	t.Parallel()

	c := New(&countingFetcher{}, WithBlobStore(failingBlob{}, objectPath))
	body, err := c.GetOrFetch(context.Background(), "a")
	require.NoError(t, err)
	require.Empty(t, body.BlobURI)
	_, ok := c.Get("a")
	require.True(t, ok)
}
