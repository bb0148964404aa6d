package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// ErrNoContent is returned when no article body could be located on a page.
var ErrNoContent = errors.New("article content not found")

// TranslationFailed replaces a paragraph whose translation errored.
const TranslationFailed = "[Translation Failed]"

const translateWidth = 5

// BodyResolver fetches a full article and extracts its paragraphs using the
// strategy that matches the article's host.
type BodyResolver struct {
	fetcher    crawler.Fetcher
	translator crawler.Translator
	clock      crawler.Clock
	logger     *zap.Logger
}

// NewBodyResolver wires a resolver.
func NewBodyResolver(
	fetcher crawler.Fetcher,
	translator crawler.Translator,
	clock crawler.Clock,
	logger *zap.Logger,
) *BodyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BodyResolver{fetcher: fetcher, translator: translator, clock: clock, logger: logger}
}

// FetchBody downloads link and returns its extracted and translated body.
func (r *BodyResolver) FetchBody(ctx context.Context, link string) (crawler.ArticleBody, error) {
	var (
		body crawler.ArticleBody
		err  error
	)
	switch {
	case IsGuangxiLink(link):
		body, err = r.guangxi(ctx, link)
	case strings.Contains(link, "southcn.com") || strings.Contains(link, "nfnews.com"):
		body, err = r.nanfang(ctx, link)
		if err != nil {
			r.logger.Debug("nanfang extraction failed, using generic", zap.String("link", link), zap.Error(err))
			body, err = r.generic(ctx, link)
		}
	default:
		body, err = r.generic(ctx, link)
	}
	if err != nil {
		return crawler.ArticleBody{}, err
	}
	body.Link = link
	body.FetchedAt = r.clock.Now()
	body.TranslatedParagraphs = r.translateAll(ctx, body.Paragraphs)
	return body, nil
}

func (r *BodyResolver) guangxi(ctx context.Context, link string) (crawler.ArticleBody, error) {
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link, Mode: crawler.RenderHeadless, TextOnly: true})
	if err != nil {
		return crawler.ArticleBody{}, err
	}
	title, paragraphs := Guangxi{}.ParseSlot(resp.Body)
	if title == "" {
		return crawler.ArticleBody{}, fmt.Errorf("%s: %w", link, ErrNoContent)
	}
	var b strings.Builder
	b.WriteString("<h2>" + html.EscapeString(title) + "</h2>")
	for _, p := range paragraphs {
		b.WriteString("<p>" + html.EscapeString(p) + "</p>")
	}
	return crawler.ArticleBody{Title: title, ContentHTML: b.String(), Paragraphs: paragraphs, Method: "headless-text"}, nil
}

func (r *BodyResolver) nanfang(ctx context.Context, link string) (crawler.ArticleBody, error) {
	doc, err := r.fetchDoc(ctx, link)
	if err != nil {
		return crawler.ArticleBody{}, err
	}
	content := firstMatch(doc, "#content", ".article-content", "#article_content", ".article")
	if content == nil {
		content = largestTextBlock(doc)
	}
	if content == nil {
		return crawler.ArticleBody{}, fmt.Errorf("%s: %w", link, ErrNoContent)
	}
	content.Find(".print, .print-btn, .tools, script, style").Remove()
	return selectionBody(doc, content, "selector")
}

func (r *BodyResolver) generic(ctx context.Context, link string) (crawler.ArticleBody, error) {
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link, Mode: crawler.RenderPlain})
	if err != nil {
		return crawler.ArticleBody{}, err
	}
	doc := parseDoc(resp.Body)
	if content := firstMatch(doc, "#founder_content", ".article-content", `div[class*="content"]`); content != nil {
		content.Find(".print, .print-btn, script, style").Remove()
		if body, err := selectionBody(doc, content, "selector"); err == nil {
			return body, nil
		}
	}
	return readabilityBody(resp.Body, link)
}

func (r *BodyResolver) fetchDoc(ctx context.Context, link string) (*goquery.Document, error) {
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link, Mode: crawler.RenderPlain})
	if err != nil {
		return nil, err
	}
	return parseDoc(resp.Body), nil
}

// translateAll translates paragraphs with bounded concurrency, keeping order.
func (r *BodyResolver) translateAll(ctx context.Context, paragraphs []string) []string {
	if r.translator == nil || len(paragraphs) == 0 {
		return append([]string(nil), paragraphs...)
	}
	out := make([]string, len(paragraphs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateWidth)
	for i, p := range paragraphs {
		g.Go(func() error {
			translated, err := r.translator.Translate(gctx, p)
			if err != nil {
				r.logger.Warn("paragraph translation failed", zap.Error(err))
				translated = TranslationFailed
			}
			out[i] = translated
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func firstMatch(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// largestTextBlock picks the div with the most text, ignoring list containers.
func largestTextBlock(doc *goquery.Document) *goquery.Selection {
	var (
		best     *goquery.Selection
		bestSize int
	)
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("list") {
			return
		}
		if n := len(strings.TrimSpace(s.Text())); n > bestSize {
			best, bestSize = s, n
		}
	})
	return best
}

func selectionBody(doc *goquery.Document, content *goquery.Selection, method string) (crawler.ArticleBody, error) {
	markup, err := goquery.OuterHtml(content)
	if err != nil {
		return crawler.ArticleBody{}, fmt.Errorf("render content: %w", err)
	}
	paragraphs := paragraphsOf(content)
	if len(paragraphs) == 0 {
		return crawler.ArticleBody{}, ErrNoContent
	}
	title := cleanText(firstMatchText(doc, "h1", "title"))
	return crawler.ArticleBody{Title: title, ContentHTML: markup, Paragraphs: paragraphs, Method: method}, nil
}

func readabilityBody(page []byte, link string) (crawler.ArticleBody, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return crawler.ArticleBody{}, fmt.Errorf("parse article url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(page), parsedURL)
	if err != nil {
		return crawler.ArticleBody{}, fmt.Errorf("%s: %w", link, ErrNoContent)
	}
	content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return crawler.ArticleBody{}, fmt.Errorf("parse readability output: %w", err)
	}
	paragraphs := paragraphsOf(content.Selection)
	if len(paragraphs) == 0 {
		return crawler.ArticleBody{}, fmt.Errorf("%s: %w", link, ErrNoContent)
	}
	return crawler.ArticleBody{
		Title:       cleanText(article.Title),
		ContentHTML: article.Content,
		Paragraphs:  paragraphs,
		Method:      "readability",
	}, nil
}

// paragraphsOf returns the non-empty <p> texts under s, or its non-empty
// text lines when there are no paragraphs.
func paragraphsOf(s *goquery.Selection) []string {
	var out []string
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			out = append(out, text)
		}
	})
	if len(out) > 0 {
		return out
	}
	return splitLines(s.Text())
}

func firstMatchText(doc *goquery.Document, selectors ...string) string {
	if s := firstMatch(doc, selectors...); s != nil {
		return s.Text()
	}
	return ""
}
