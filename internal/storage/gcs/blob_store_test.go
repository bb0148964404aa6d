package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var gotName, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"name":"`+gotName+`"}`)
	})
	store := newTestStore(t, handler, "/bodies/")

	uri, err := store.PutObject(context.Background(), "ab/abc.json", "application/json",
		strings.NewReader(`{"title":"福建日报"}`))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/bodies/ab/abc.json", uri)
	require.Equal(t, "bodies/ab/abc.json", gotName)
	require.Contains(t, gotBody, `{"title":"福建日报"}`)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, "")

	_, err := store.PutObject(context.Background(), "x.json", "", strings.NewReader("{}"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("{}"))
	require.ErrorContains(t, err, "path is required")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}
