package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRunAlreadyInProgress is returned when a source already has a running crawl.
	ErrRunAlreadyInProgress = errors.New("crawl already in progress")
	// ErrUnknownSource is returned for a source key that is not registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrUnknownJob is returned for a schedule id that is not registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrNoEdition signals that the edition root for the requested date does not exist.
	ErrNoEdition = errors.New("no edition published for date")
	// ErrEditionUnreachable is returned when every fetch for an edition failed in transport.
	ErrEditionUnreachable = errors.New("edition unreachable")
	// ErrFetcherUnavailable marks fetch failures caused by configuration rather than
	// the remote site, such as a render mode that is turned off.
	ErrFetcherUnavailable = errors.New("fetcher unavailable")
	// ErrInvalidTransition is returned when a tracker transition is not allowed from its state.
	ErrInvalidTransition = errors.New("invalid run state transition")
	// ErrQueueClosed is returned by queues that no longer accept or yield runs.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidDate is returned for an edition date that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid edition date")
	// ErrObjectNotFound is returned by blob stores for a missing path.
	ErrObjectNotFound = errors.New("object not found")
)

// FetchError reports a non-2xx response or transport failure for a URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a FetchError carrying HTTP 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}
