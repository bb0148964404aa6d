package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Run and page milestones.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StagePageDone  Stage = "PAGE_DONE"
	StagePersisted Stage = "PERSISTED"
)

// Event is one milestone of a crawl run.
type Event struct {
	RunID  string
	TS     time.Time
	Stage  Stage
	Source string
	// Section and URL scope PAGE_DONE events.
	Section string
	URL     string
	// Articles counts items found by a page, or saved by a run.
	Articles int
	// Errors counts rows rejected during persistence.
	Errors int
	Dur    time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Source == "" {
		return errors.New("source is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StagePersisted:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Articles < 0 || e.Errors < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
