// Package collyfetcher implements the plain HTTP side of the fetch gateway using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultMaxJSRedirects = 2
)

var (
	hrefRedirect = regexp.MustCompile(`window\.location\.href\s*=\s*'([^']+)'`)
	locRedirect  = regexp.MustCompile(`loc\s*=\s*'([^']+)'`)
)

// Waiter spaces requests per host. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxJSRedirects int
	Politeness     Waiter
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxJSRedirects <= 0 {
		cfg.MaxJSRedirects = defaultMaxJSRedirects
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch downloads request.URL, decodes the body to UTF-8 and follows up to
// MaxJSRedirects script-driven redirects, so at most MaxJSRedirects+1 pages
// are fetched. When the hop budget runs out the last fetched page is
// returned.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target := request.URL
	var result crawler.FetchResponse
	for hop := 0; hop <= f.cfg.MaxJSRedirects; hop++ {
		resp, err := f.fetchOnce(ctx, request, target)
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		resp.Redirects = hop
		result = resp
		if hop == f.cfg.MaxJSRedirects {
			break
		}
		next, ok := scriptRedirect(resp.URL, resp.Body)
		if !ok {
			break
		}
		target = next
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(
	ctx context.Context,
	request crawler.FetchRequest,
	target string,
) (crawler.FetchResponse, error) {
	if f.cfg.Politeness != nil {
		if err := f.cfg.Politeness.Wait(ctx, target); err != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: target, Err: err}
		}
	}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)
	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	body, err := toUTF8(result.Body, result.Headers.Get("Content-Type"))
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: target, Err: err}
	}
	result.Body = body
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		fe := &crawler.FetchError{Err: err}
		if r != nil {
			fe.StatusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				fe.URL = r.Request.URL.String()
			}
		}
		*fetchErr = fe
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return &crawler.FetchError{URL: target, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			var fe *crawler.FetchError
			if errors.As(*fetchErr, &fe) && fe.URL == "" {
				fe.URL = target
			}
			return *fetchErr
		}
		if err != nil {
			return &crawler.FetchError{URL: target, Err: fmt.Errorf("colly visit failed: %w", err)}
		}
		return nil
	}
}

// scriptRedirect recognizes the two redirect stubs the e-paper portals serve
// in place of a 302.
func scriptRedirect(base string, body []byte) (string, bool) {
	text := string(body)
	var ref string
	if m := hrefRedirect.FindStringSubmatch(text); m != nil {
		ref = m[1]
	} else if m := locRedirect.FindStringSubmatch(text); m != nil && strings.Contains(text, "location.href") {
		ref = m[1]
	}
	if ref == "" {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	next, err := baseURL.Parse(ref)
	if err != nil {
		return "", false
	}
	return next.String(), true
}

// toUTF8 converts body to UTF-8. Colly already transcodes when the header
// names a charset, so only pages that declare their encoding in a meta tag
// (or not at all) are sniffed here. Undeclared bodies that are not valid
// UTF-8 are read as GB18030, the superset of GB2312 and GBK.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	if len(body) == 0 || strings.Contains(strings.ToLower(contentType), "charset=") {
		return body, nil
	}
	enc, name, certain := charset.DetermineEncoding(body, "text/html")
	switch {
	case enc == nil || name == "utf-8":
		return body, nil
	case name == "windows-1252" && !certain:
		if utf8.Valid(body) {
			return body, nil
		}
		enc, name = simplifiedchinese.GB18030, "gb18030"
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	return decoded, nil
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
