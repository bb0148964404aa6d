package sources

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// Guangzhou is 广州日报. The dated index lists every section; articles on a
// section page are image-map areas carrying their title in data-title.
type Guangzhou struct{}

func (Guangzhou) Key() string              { return "guangzhou" }
func (Guangzhou) Name() string             { return "广州日报" }
func (Guangzhou) Mode() crawler.RenderMode { return crawler.RenderPlain }

func (g Guangzhou) IndexURL(d time.Time) string {
	return g.root(d) + "index_" + d.Format("2006-01-02") + ".htm"
}

func (Guangzhou) root(d time.Time) string {
	return "https://gzdaily.dayoo.com/pc/html/" + d.Format("2006-01/02") + "/"
}

// ParseIndex returns one page per distinct section link, in document order.
func (g Guangzhou) ParseIndex(body []byte, _ string, d time.Time) []crawler.Page {
	seen := make(map[string]struct{})
	var pages []crawler.Page
	parseDoc(body).Find(`div.bc a[href*="node_"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolve(g.root(d), href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		pages = append(pages, crawler.Page{URL: abs, Section: cleanText(s.Text())})
	})
	return pages
}

// FallbackPages is empty: without the index there is no reliable section list.
func (Guangzhou) FallbackPages(time.Time) []crawler.Page { return nil }

func (g Guangzhou) ExtractPage(body []byte, page crawler.Page, d time.Time) []crawler.Candidate {
	var out []crawler.Candidate
	parseDoc(body).Find("area[data-title]").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.AttrOr("data-title", ""))
		href, _ := s.Attr("href")
		if utf8.RuneCountInString(title) <= 3 {
			return
		}
		abs, ok := resolve(g.root(d), href)
		if !ok {
			return
		}
		out = append(out, crawler.Candidate{Section: page.Section, Title: title, Link: abs})
	})
	return out
}
