package crawler

import "time"

// Source is one configured newspaper.
type Source interface {
	// Key is the stable identifier used in URLs and storage.
	Key() string
	// Name is the display name persisted with each article.
	Name() string
}

// Page is one section page of a static-index edition.
type Page struct {
	URL     string
	Section string
}

// IndexSource publishes an edition as a fixed set of section pages.
type IndexSource interface {
	Source
	Mode() RenderMode
	// IndexURL returns the navigation root for date, or "" when the page list
	// does not depend on a root document.
	IndexURL(date time.Time) string
	// ParseIndex extracts section pages from the navigation root.
	ParseIndex(body []byte, indexURL string, date time.Time) []Page
	// FallbackPages is used when the root carries no navigation (or there is
	// no root at all). It may be empty.
	FallbackPages(date time.Time) []Page
	// ExtractPage returns every candidate listed on a section page.
	ExtractPage(body []byte, page Page, date time.Time) []Candidate
}

// SlotSource publishes articles at sequential (section, item) addresses that
// must be probed because no listing exists.
type SlotSource interface {
	Source
	SlotRequest(date time.Time, section, item int) FetchRequest
	SectionLabel(section int) string
	// ParseSlot extracts the title and body paragraphs of one probed article.
	// An empty title means the slot holds no article.
	ParseSlot(body []byte) (title string, paragraphs []string)
}
