// Package detector decides when a plain fetch of an edition page needs a
// headless re-render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const (
	defaultScriptPercent = 25
	defaultMinAnchors    = 3
)

// Heuristic promotes pages that are mostly script and carry too few links to
// be a rendered edition layout.
type Heuristic struct {
	// ScriptPercent is the share of the document covered by <script> blocks
	// at which a link-poor page is promoted.
	ScriptPercent int
	// MinAnchors is the number of <a href> elements a rendered page must have.
	MinAnchors int
}

// NewHeuristic creates a detector. Zero values select defaults.
func NewHeuristic(scriptPercent, minAnchors int) *Heuristic {
	if scriptPercent <= 0 {
		scriptPercent = defaultScriptPercent
	}
	if minAnchors <= 0 {
		minAnchors = defaultMinAnchors
	}
	return &Heuristic{ScriptPercent: scriptPercent, MinAnchors: minAnchors}
}

var spaMarkers = [][]byte{
	[]byte(`id="app"`),
	[]byte(`id="root"`),
	[]byte("__NUXT__"),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether resp looks like an unrendered client-side page.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	anchors := countAnchors(body)
	if anchors >= h.MinAnchors {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return scriptCoverage(body) >= h.ScriptPercent
}

func countAnchors(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	return doc.Find("a[href]").Length()
}

// scriptCoverage returns the percentage of body bytes inside <script> elements.
func scriptCoverage(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := strings.Index(lower[start:], closeTag)
		if end == -1 {
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
