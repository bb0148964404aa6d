// Package system provides a wall clock pinned to the newspapers' publishing timezone.
package system

import "time"

// EditionZone is the timezone in which edition dates are assigned.
const EditionZone = "Asia/Shanghai"

// Clock implements crawler.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock in EditionZone, falling back to a fixed UTC+8 offset
// when the zone database is unavailable.
func New() *Clock {
	loc, err := time.LoadLocation(EditionZone)
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	return &Clock{loc: loc}
}

// NewIn returns a Clock reporting times in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location exposes the configured location.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today returns the current edition date as YYYY-MM-DD.
func (c *Clock) Today() string {
	return c.Now().Format("2006-01-02")
}
