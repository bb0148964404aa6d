package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

var editionDate = time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	logs     []string
	progress []int
}

func (r *recorder) AddLog(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
}

func (r *recorder) SetProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.logs, "\n")
}

// mapFetcher serves bodies by URL and fails everything else with 404.
type mapFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (f *mapFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, req.URL)
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: 404}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

// slotSource treats the body as "title|paragraph".
type slotSource struct{}

func (slotSource) Key() string  { return "slots" }
func (slotSource) Name() string { return "Slots" }

func (slotSource) SlotRequest(d time.Time, section, item int) crawler.FetchRequest {
	return crawler.FetchRequest{
		URL:  fmt.Sprintf("https://slots.test/%s/%d/%d", d.Format(crawler.DateLayout), section, item),
		Mode: crawler.RenderHeadless,
	}
}

func (slotSource) SectionLabel(section int) string { return fmt.Sprintf("S%d", section) }

func (slotSource) ParseSlot(body []byte) (string, []string) {
	title, para, _ := strings.Cut(string(body), "|")
	if para == "" {
		return title, nil
	}
	return title, []string{para}
}

func slotURL(section, item int) string {
	return slotSource{}.SlotRequest(editionDate, section, item).URL
}

func TestProbeSectionStopsAfterCutoff(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		slotURL(1, 1): "第一篇文章的标题|正文一",
		slotURL(1, 2): "第二篇文章的标题|正文二",
		slotURL(1, 3): "第三篇文章的标题|正文三",
		slotURL(1, 8): "不应被探测到的文章",
	}}
	e := New(f, Config{MaxSections: 1, MaxItems: 10, FailureCutoff: 3, MinTitleLen: 5}, nil)
	rec := &recorder{}

	items, err := e.ProbeSection(context.Background(), slotSource{}, editionDate, 1, rec)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Len(t, f.called, 6)
	require.Equal(t, slotURL(1, 6), f.called[5])
	require.Equal(t, "S1", items[0].Section)
	require.Equal(t, slotURL(1, 1), items[0].Link)
	require.Equal(t, "正文一", items[0].Preview)
	require.Contains(t, rec.joined(), "3 consecutive misses")
}

func TestProbeSectionResetsFailuresOnHit(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		slotURL(2, 1): "第一篇文章的标题",
		slotURL(2, 4): "第四篇文章的标题",
	}}
	e := New(f, Config{MaxItems: 10, FailureCutoff: 3}, nil)

	items, err := e.ProbeSection(context.Background(), slotSource{}, editionDate, 2, &recorder{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, f.called, 7)
}

func TestProbeSectionShortTitleAndErrorsCountAsMisses(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{
		pages: map[string]string{
			slotURL(1, 1): "短题",
			slotURL(1, 2): "",
		},
		errs: map[string]error{slotURL(1, 3): errors.New("connection reset")},
	}
	e := New(f, Config{}, nil)
	rec := &recorder{}

	items, err := e.ProbeSection(context.Background(), slotSource{}, editionDate, 1, rec)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Len(t, f.called, 3)
	logs := rec.joined()
	require.Contains(t, logs, "title too short")
	require.Contains(t, logs, "No article at S1 item 2")
	require.Contains(t, logs, "Error fetching S1 item 3")
}

func TestProbeVisitsAllSections(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		slotURL(1, 1): "第一版头条新闻标题",
		slotURL(3, 1): "第三版头条新闻标题",
		slotURL(3, 2): "第三版第二条新闻",
	}}
	e := New(f, Config{MaxSections: 3, MaxItems: 5, FailureCutoff: 2}, nil)
	rec := &recorder{}

	items, err := e.Probe(context.Background(), slotSource{}, editionDate, rec)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []int{30, 60, 90}, rec.progress)
	require.Contains(t, rec.joined(), "Section S2 complete: found 0 articles")
}

func TestEngineStopsWhenFetcherUnavailable(t *testing.T) {
	t.Parallel()

	unavailable := &crawler.FetchError{
		URL: slotURL(1, 1),
		Err: fmt.Errorf("headless rendering disabled: %w", crawler.ErrFetcherUnavailable),
	}
	f := &mapFetcher{errs: map[string]error{slotURL(1, 1): unavailable}}
	e := New(f, Config{MaxSections: 3}, nil)
	rec := &recorder{}

	_, err := e.Probe(context.Background(), slotSource{}, editionDate, rec)
	require.ErrorIs(t, err, crawler.ErrFetcherUnavailable)
	require.Len(t, f.called, 1)
	require.Empty(t, rec.progress)
}

func TestEngineWithoutAnyResponse(t *testing.T) {
	t.Parallel()

	t.Run("all not found", func(t *testing.T) {
		t.Parallel()
		e := New(&mapFetcher{}, Config{MaxSections: 2, FailureCutoff: 3}, nil)
		_, err := e.Probe(context.Background(), slotSource{}, editionDate, &recorder{})
		require.ErrorIs(t, err, crawler.ErrNoEdition)
	})

	t.Run("all transport errors", func(t *testing.T) {
		t.Parallel()
		refused := errors.New("connection refused")
		f := &mapFetcher{errs: map[string]error{}}
		for section := 1; section <= 2; section++ {
			for item := 1; item <= 3; item++ {
				f.errs[slotURL(section, item)] = refused
			}
		}
		e := New(f, Config{MaxSections: 2, FailureCutoff: 3}, nil)
		_, err := e.Probe(context.Background(), slotSource{}, editionDate, &recorder{})
		require.ErrorIs(t, err, crawler.ErrEditionUnreachable)
		require.Len(t, f.called, 6)
	})

	t.Run("one empty page is an answer", func(t *testing.T) {
		t.Parallel()
		f := &mapFetcher{pages: map[string]string{slotURL(2, 1): ""}}
		e := New(f, Config{MaxSections: 2, FailureCutoff: 3}, nil)
		items, err := e.Probe(context.Background(), slotSource{}, editionDate, &recorder{})
		require.NoError(t, err)
		require.Empty(t, items)
	})
}

func TestProbeStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(&mapFetcher{}, Config{}, nil)

	_, err := e.Probe(ctx, slotSource{}, editionDate, &recorder{})
	require.ErrorIs(t, err, context.Canceled)
}

type indexSource struct {
	root     string
	fallback []crawler.Page
}

func (indexSource) Key() string                              { return "index" }
func (indexSource) Name() string                             { return "Index" }
func (indexSource) Mode() crawler.RenderMode                 { return crawler.RenderPlain }
func (s indexSource) IndexURL(time.Time) string              { return s.root }
func (s indexSource) FallbackPages(time.Time) []crawler.Page { return s.fallback }

func (indexSource) ParseIndex(body []byte, indexURL string, _ time.Time) []crawler.Page {
	var pages []crawler.Page
	for _, name := range strings.Fields(string(body)) {
		pages = append(pages, crawler.Page{URL: indexURL + name, Section: name})
	}
	return pages
}

func (indexSource) ExtractPage(body []byte, page crawler.Page, _ time.Time) []crawler.Candidate {
	var out []crawler.Candidate
	for _, title := range strings.Split(string(body), ",") {
		out = append(out, crawler.Candidate{Section: page.Section, Title: title, Link: page.URL + "#" + title})
	}
	return out
}

func TestPagesFromNavigation(t *testing.T) {
	t.Parallel()

	src := indexSource{root: "https://index.test/"}
	f := &mapFetcher{pages: map[string]string{src.root: "A01 A02"}}
	pages, err := New(f, Config{}, nil).Pages(context.Background(), src, editionDate)
	require.NoError(t, err)
	require.Equal(t, []crawler.Page{
		{URL: "https://index.test/A01", Section: "A01"},
		{URL: "https://index.test/A02", Section: "A02"},
	}, pages)
}

func TestPagesFallbacks(t *testing.T) {
	t.Parallel()

	fallback := []crawler.Page{{URL: "https://index.test/fb", Section: "fb"}}

	t.Run("empty navigation", func(t *testing.T) {
		t.Parallel()
		src := indexSource{root: "https://index.test/", fallback: fallback}
		f := &mapFetcher{pages: map[string]string{src.root: ""}}
		pages, err := New(f, Config{}, nil).Pages(context.Background(), src, editionDate)
		require.NoError(t, err)
		require.Equal(t, fallback, pages)
	})

	t.Run("no root", func(t *testing.T) {
		t.Parallel()
		f := &mapFetcher{}
		pages, err := New(f, Config{}, nil).Pages(context.Background(), indexSource{fallback: fallback}, editionDate)
		require.NoError(t, err)
		require.Equal(t, fallback, pages)
		require.Empty(t, f.called)
	})
}

func TestPagesRootErrors(t *testing.T) {
	t.Parallel()

	src := indexSource{root: "https://index.test/"}

	_, err := New(&mapFetcher{}, Config{}, nil).Pages(context.Background(), src, editionDate)
	require.ErrorIs(t, err, crawler.ErrNoEdition)

	boom := &crawler.FetchError{URL: src.root, StatusCode: 503}
	f := &mapFetcher{errs: map[string]error{src.root: boom}}
	_, err = New(f, Config{}, nil).Pages(context.Background(), src, editionDate)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, crawler.ErrNoEdition)
}

func TestCollectPage(t *testing.T) {
	t.Parallel()

	page := crawler.Page{URL: "https://index.test/A01", Section: "A01"}
	f := &mapFetcher{pages: map[string]string{page.URL: "one,two"}}
	e := New(f, Config{}, nil)

	items, err := e.CollectPage(context.Background(), indexSource{}, page, editionDate)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "A01", items[1].Section)

	_, err = e.CollectPage(context.Background(), indexSource{}, crawler.Page{URL: "https://index.test/missing"}, editionDate)
	require.True(t, crawler.IsNotFound(err))
}
