package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// ErrDisabled is returned when headless rendering is turned off in config.
var ErrDisabled = fmt.Errorf("headless rendering disabled: %w", crawler.ErrFetcherUnavailable)

// Disabled stands in for the renderer when headless.enabled is false.
type Disabled struct{}

// Fetch always fails with ErrDisabled.
func (Disabled) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: ErrDisabled}
}
