package sources

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// Hainan is 海南日报.
type Hainan struct{}

func (Hainan) Key() string                   { return "hainan" }
func (Hainan) Name() string                  { return "海南日报" }
func (Hainan) Mode() crawler.RenderMode      { return crawler.RenderPlain }
func (h Hainan) IndexURL(d time.Time) string { return h.root(d) + "node_1.htm" }

func (Hainan) root(d time.Time) string {
	return "http://news.hndaily.cn/html/" + d.Format("2006-01/02") + "/"
}

// ParseIndex keeps navigation links that point at node pages. The table
// also links the PDF of each page, which is skipped.
func (h Hainan) ParseIndex(body []byte, _ string, d time.Time) []crawler.Page {
	var pages []crawler.Page
	parseDoc(body).Find("#bmdhTable a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "node") || strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return
		}
		if abs, ok := resolve(h.root(d), href); ok {
			pages = append(pages, crawler.Page{URL: abs, Section: cleanText(s.Text())})
		}
	})
	return pages
}

func (h Hainan) FallbackPages(d time.Time) []crawler.Page {
	return []crawler.Page{{URL: h.IndexURL(d), Section: "第01版"}}
}

func (Hainan) ExtractPage(body []byte, page crawler.Page, _ time.Time) []crawler.Candidate {
	var out []crawler.Candidate
	parseDoc(body).Find("#main-ed-articlenav-list a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		title := cleanText(s.Text())
		abs, ok := resolve(page.URL, href)
		if !ok || title == "" {
			return
		}
		out = append(out, crawler.Candidate{Section: page.Section, Title: title, Link: abs})
	})
	return out
}
