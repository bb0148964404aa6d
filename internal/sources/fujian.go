package sources

import (
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// Fujian is 福建日报. Each edition has a navigation table on its first page.
type Fujian struct{}

func (Fujian) Key() string                   { return "fujian" }
func (Fujian) Name() string                  { return "福建日报" }
func (Fujian) Mode() crawler.RenderMode      { return crawler.RenderPlain }
func (f Fujian) IndexURL(d time.Time) string { return f.root(d) + "node_01.html" }

func (Fujian) root(d time.Time) string {
	return "https://fjrb.fjdaily.com/pc/col/" + d.Format("200601/02") + "/"
}

// ParseIndex reads the page links of #bmdhTable.
func (f Fujian) ParseIndex(body []byte, _ string, d time.Time) []crawler.Page {
	var pages []crawler.Page
	parseDoc(body).Find("#bmdhTable .rigth_bmdh_href").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs, ok := resolve(f.root(d), href); ok {
			pages = append(pages, crawler.Page{URL: abs, Section: cleanText(s.Text())})
		}
	})
	return pages
}

func (f Fujian) FallbackPages(d time.Time) []crawler.Page {
	return []crawler.Page{{URL: f.IndexURL(d), Section: "01 要闻"}}
}

func (Fujian) ExtractPage(body []byte, page crawler.Page, _ time.Time) []crawler.Candidate {
	var out []crawler.Candidate
	parseDoc(body).Find("#main-ed-articlenav-list .wzlb_tr a").Each(func(_ int, s *goquery.Selection) {
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
