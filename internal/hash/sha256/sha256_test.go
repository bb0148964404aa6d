package sha256

import (
	"strings"
	"testing"
)

func TestHasherHashKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestObjectPathSharding(t *testing.T) {
	t.Parallel()

	h := New()
	path := h.ObjectPath("bodies", "https://example.com/a.html")
	if !strings.HasPrefix(path, "bodies/") || !strings.HasSuffix(path, ".json") {
		t.Fatalf("unexpected path %q", path)
	}
	parts := strings.Split(path, "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], parts[1]) {
		t.Fatalf("expected shard dir to prefix digest, got %q", path)
	}
	if again := h.ObjectPath("bodies", "https://example.com/a.html"); again != path {
		t.Fatalf("expected stable path, got %q vs %q", again, path)
	}
}
