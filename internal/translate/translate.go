// Package translate provides the pluggable translation step applied to
// titles and article paragraphs.
package translate

import (
	"context"
	"strings"
)

// Identity returns text unchanged.
type Identity struct{}

func (Identity) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}

// Prefix tags translated text with a marker so the pipeline is visible
// end to end without a translation backend.
type Prefix struct {
	Marker string
}

func (p Prefix) Translate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	return p.Marker + text, nil
}
