// Package discovery turns a (source, date) pair into fetch targets and
// candidate articles. Static-index editions are expanded from their
// navigation root; slot-addressed editions are probed section by section
// until a run of consecutive misses shows the section is exhausted.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// Config bounds slot probing.
type Config struct {
	MaxSections   int
	MaxItems      int
	FailureCutoff int
	MinTitleLen   int
}

// DefaultConfig mirrors the crawler defaults.
func DefaultConfig() Config {
	return Config{MaxSections: 9, MaxItems: 10, FailureCutoff: 3, MinTitleLen: 5}
}

// Reporter receives human-readable progress as discovery proceeds.
// *status.Tracker satisfies it.
type Reporter interface {
	AddLog(message string)
	SetProgress(percent int)
}

// ProbeProgressShare is the share of run progress that slot probing covers.
const ProbeProgressShare = 90

// Engine drives discovery through a crawler.Fetcher.
type Engine struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds an Engine. Zero fields of cfg take their defaults.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = def.MaxSections
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.FailureCutoff <= 0 {
		cfg.FailureCutoff = def.FailureCutoff
	}
	if cfg.MinTitleLen <= 0 {
		cfg.MinTitleLen = def.MinTitleLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Pages resolves the section pages of a static-index edition. A 404 at the
// navigation root means the edition does not exist and yields
// crawler.ErrNoEdition; any other root failure is returned as is.
func (e *Engine) Pages(ctx context.Context, src crawler.IndexSource, date time.Time) ([]crawler.Page, error) {
	indexURL := src.IndexURL(date)
	if indexURL == "" {
		return src.FallbackPages(date), nil
	}
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: indexURL, Mode: src.Mode()})
	if err != nil {
		if crawler.IsNotFound(err) {
			return nil, fmt.Errorf("%s %s: %w", src.Key(), date.Format(crawler.DateLayout), crawler.ErrNoEdition)
		}
		return nil, fmt.Errorf("fetch index %s: %w", indexURL, err)
	}
	pages := src.ParseIndex(resp.Body, resp.URL, date)
	if len(pages) == 0 {
		e.logger.Debug("no navigation on index, using fallback pages",
			zap.String("source", src.Key()), zap.String("url", indexURL))
		return src.FallbackPages(date), nil
	}
	return pages, nil
}

// CollectPage fetches one section page and extracts its candidates.
func (e *Engine) CollectPage(
	ctx context.Context,
	src crawler.IndexSource,
	page crawler.Page,
	date time.Time,
) ([]crawler.Candidate, error) {
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: page.URL, Mode: src.Mode()})
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", page.URL, err)
	}
	return src.ExtractPage(resp.Body, page, date), nil
}

// Probe walks every section of a slot-addressed edition. Sections are
// visited exhaustively: an empty section does not end the walk. A fetcher
// that is unavailable ends the walk at once. When no item fetch got a
// response the edition is reported as crawler.ErrNoEdition if every fetch
// was a 404, and crawler.ErrEditionUnreachable otherwise.
func (e *Engine) Probe(
	ctx context.Context,
	src crawler.SlotSource,
	date time.Time,
	rep Reporter,
) ([]crawler.Candidate, error) {
	var (
		all []crawler.Candidate
		t   tally
	)
	for section := 1; section <= e.cfg.MaxSections; section++ {
		items, err := e.probeSection(ctx, src, date, section, rep, &t)
		all = append(all, items...)
		if err != nil {
			return all, err
		}
		rep.AddLog(fmt.Sprintf("Section %s complete: found %d articles", src.SectionLabel(section), len(items)))
		rep.SetProgress(section * ProbeProgressShare / e.cfg.MaxSections)
	}
	if t.answered() == 0 && t.failed > 0 {
		day := date.Format(crawler.DateLayout)
		if t.notFound == t.failed {
			return all, fmt.Errorf("%s %s: %w", src.Key(), day, crawler.ErrNoEdition)
		}
		return all, fmt.Errorf("%s %s: all %d item fetches failed: %w", src.Key(), day, t.failed, crawler.ErrEditionUnreachable)
	}
	return all, nil
}

// ProbeSection probes items 1..MaxItems of one section and stops after
// FailureCutoff consecutive misses. A miss is a transport error, a page
// without a title, or a title shorter than MinTitleLen runes. Only context
// cancellation and crawler.ErrFetcherUnavailable are returned as errors.
func (e *Engine) ProbeSection(
	ctx context.Context,
	src crawler.SlotSource,
	date time.Time,
	section int,
	rep Reporter,
) ([]crawler.Candidate, error) {
	return e.probeSection(ctx, src, date, section, rep, &tally{})
}

// tally counts item outcomes across an edition.
type tally struct {
	hits, misses, failed, notFound int
}

func (t *tally) answered() int { return t.hits + t.misses }

func (e *Engine) probeSection(
	ctx context.Context,
	src crawler.SlotSource,
	date time.Time,
	section int,
	rep Reporter,
	t *tally,
) ([]crawler.Candidate, error) {
	label := src.SectionLabel(section)
	var (
		items    []crawler.Candidate
		failures int
	)
	for item := 1; item <= e.cfg.MaxItems; item++ {
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("probe %s: %w", label, err)
		}
		req := src.SlotRequest(date, section, item)
		cand, outcome, err := e.probe(ctx, src, req, label, item, rep)
		metrics.ObserveProbe(src.Key(), outcome)
		switch outcome {
		case outcomeHit:
			t.hits++
			failures = 0
			items = append(items, cand)
			continue
		case outcomeMiss:
			t.misses++
		case outcomeError:
			if errors.Is(err, crawler.ErrFetcherUnavailable) {
				return items, fmt.Errorf("fetch %s item %d: %w", label, item, err)
			}
			t.failed++
			if crawler.IsNotFound(err) {
				t.notFound++
			}
		}
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("probe %s: %w", label, err)
		}
		failures++
		if failures >= e.cfg.FailureCutoff {
			rep.AddLog(fmt.Sprintf("%d consecutive misses in %s, moving to next section", failures, label))
			break
		}
	}
	return items, nil
}

const (
	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

func (e *Engine) probe(
	ctx context.Context,
	src crawler.SlotSource,
	req crawler.FetchRequest,
	label string,
	item int,
	rep Reporter,
) (crawler.Candidate, string, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		rep.AddLog(fmt.Sprintf("Error fetching %s item %d: %v", label, item, err))
		return crawler.Candidate{}, outcomeError, err
	}
	title, paragraphs := src.ParseSlot(resp.Body)
	switch {
	case title == "":
		rep.AddLog(fmt.Sprintf("No article at %s item %d", label, item))
		return crawler.Candidate{}, outcomeMiss, nil
	case utf8.RuneCountInString(title) < e.cfg.MinTitleLen:
		rep.AddLog(fmt.Sprintf("Skipping %s item %d: title too short", label, item))
		return crawler.Candidate{}, outcomeMiss, nil
	}
	rep.AddLog(fmt.Sprintf("Found %s item %d: %s", label, item, truncate(title, 50)))
	return crawler.Candidate{
		Section: label,
		Title:   title,
		Link:    req.URL,
		Preview: strings.Join(paragraphs, "\n"),
	}, outcomeHit, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
