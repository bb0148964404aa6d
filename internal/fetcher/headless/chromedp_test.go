package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	r, err := NewChromedp(Config{MaxParallel: 2, Settle: -time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	if cap(r.slots) != 2 {
		t.Fatalf("expected slot capacity 2, got %d", cap(r.slots))
	}
	if r.cfg.NavigationTimeout != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", r.cfg.NavigationTimeout)
	}
	if r.cfg.Settle != 0 {
		t.Fatalf("expected negative settle to clamp to zero, got %v", r.cfg.Settle)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{slots: make(chan struct{}, 1)}
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail while slot is held")
	}
	r.release()
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Multi": {"a", "b"}, "X-One": {"c"}, "X-None": {}})
	if v, ok := netHeaders["X-Multi"].([]string); !ok || len(v) != 2 {
		t.Fatalf("expected two entries, got %#v", netHeaders["X-Multi"])
	}
	if netHeaders["X-One"] != "c" {
		t.Fatalf("expected single value, got %#v", netHeaders["X-One"])
	}
	if _, ok := netHeaders["X-None"]; ok {
		t.Fatal("expected empty header to be skipped")
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://gxrb.example/?code=001",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 404 || headers.Get("X-Request-ID") != "abc" || url != "https://gxrb.example/?code=001" {
		t.Fatalf("unexpected snapshot: status=%d headers=%v url=%s", status, headers, url)
	}

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestDisabledFetcher(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x"})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if !errors.Is(err, crawler.ErrFetcherUnavailable) {
		t.Fatalf("expected ErrFetcherUnavailable, got %v", err)
	}
}
