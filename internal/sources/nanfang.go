package sources

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const nanfangPages = 12

// Nanfang is 南方日报. Its edition has no navigation root: pages A01..A12 are
// requested directly and missing ones simply yield nothing.
type Nanfang struct{}

func (Nanfang) Key() string               { return "nanfang" }
func (Nanfang) Name() string              { return "南方日报" }
func (Nanfang) Mode() crawler.RenderMode  { return crawler.RenderPlain }
func (Nanfang) IndexURL(time.Time) string { return "" }

func (Nanfang) ParseIndex([]byte, string, time.Time) []crawler.Page { return nil }

func (Nanfang) FallbackPages(d time.Time) []crawler.Page {
	root := "https://epaper.southcn.com/nfdaily/html/" + d.Format("200601/02") + "/"
	pages := make([]crawler.Page, 0, nanfangPages)
	for i := 1; i <= nanfangPages; i++ {
		code := fmt.Sprintf("A%02d", i)
		pages = append(pages, crawler.Page{URL: root + "node_" + code + ".html", Section: "第" + code + "版"})
	}
	return pages
}

// ExtractPage collects content_ links. Relative links are served from the
// nfnews.com mirror rather than the page's own host.
func (Nanfang) ExtractPage(body []byte, page crawler.Page, d time.Time) []crawler.Candidate {
	articleRoot := "https://epaper.nfnews.com/nfdaily/html/" + d.Format("200601/02") + "/"
	var out []crawler.Candidate
	parseDoc(body).Find(`a[href*="content_"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		title := cleanText(s.Text())
		if href == "" || utf8.RuneCountInString(title) <= 3 {
			return
		}
		link := href
		if !strings.HasPrefix(href, "http") {
			link = articleRoot + strings.TrimPrefix(href, "./")
		}
		out = append(out, crawler.Candidate{Section: page.Section, Title: title, Link: link})
	})
	return out
}
