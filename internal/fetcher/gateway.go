// Package fetcher routes fetch requests to the plain HTTP client or the
// headless renderer according to each request's render mode.
package fetcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// Config sets the hard ceiling of each fetch.
type Config struct {
	PlainTimeout    time.Duration
	HeadlessTimeout time.Duration
}

// Gateway implements crawler.Fetcher on top of a plain and a headless fetcher.
type Gateway struct {
	cfg      Config
	plain    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewGateway wires the gateway. detector may be nil, in which case auto mode
// behaves like plain.
func NewGateway(
	cfg Config,
	plain crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	logger *zap.Logger,
) *Gateway {
	if cfg.PlainTimeout <= 0 {
		cfg.PlainTimeout = 10 * time.Second
	}
	if cfg.HeadlessTimeout <= 0 {
		cfg.HeadlessTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{cfg: cfg, plain: plain, headless: headless, detector: detector, logger: logger}
}

// Fetch dispatches on request.Mode.
func (g *Gateway) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	switch request.Mode {
	case crawler.RenderHeadless:
		return g.fetchWith(ctx, g.headless, g.cfg.HeadlessTimeout, request, "headless")
	case crawler.RenderAuto:
		resp, err := g.fetchWith(ctx, g.plain, g.cfg.PlainTimeout, request, "plain")
		if err != nil || g.detector == nil || !g.detector.ShouldPromote(resp) {
			return resp, err
		}
		g.logger.Debug("promoting fetch to headless", zap.String("url", request.URL))
		rendered, herr := g.fetchWith(ctx, g.headless, g.cfg.HeadlessTimeout, request, "headless")
		if herr != nil {
			g.logger.Warn("headless promotion failed, using plain body",
				zap.String("url", request.URL), zap.Error(herr))
			return resp, nil
		}
		return rendered, nil
	default:
		return g.fetchWith(ctx, g.plain, g.cfg.PlainTimeout, request, "plain")
	}
}

func (g *Gateway) fetchWith(
	ctx context.Context,
	f crawler.Fetcher,
	timeout time.Duration,
	request crawler.FetchRequest,
	mode string,
) (crawler.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := f.Fetch(ctx, request)
	if err != nil {
		metrics.ObserveFetch(request.URL, mode, "error", 0)
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(request.URL, mode, "ok", len(resp.Body))
	return resp, nil
}
