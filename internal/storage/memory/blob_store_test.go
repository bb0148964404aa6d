package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"title":"广西日报"}`)
	uri, err := store.PutObject(context.Background(), "bodies/ab/abc.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://bodies/ab/abc.json", uri)

	payload[0] = 'X'
	rc, err := store.GetObject(context.Background(), "bodies/ab/abc.json")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, `{"title":"广西日报"}`, string(got))
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}
