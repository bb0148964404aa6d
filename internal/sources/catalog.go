package sources

import (
	"fmt"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// All returns every built-in source.
func All() []crawler.Source {
	return []crawler.Source{Fujian{}, Hainan{}, Nanfang{}, Guangzhou{}, Guangxi{}}
}

// Select returns the built-in sources named by keys, in the given order.
func Select(keys []string) ([]crawler.Source, error) {
	byKey := make(map[string]crawler.Source)
	for _, src := range All() {
		byKey[src.Key()] = src
	}
	out := make([]crawler.Source, 0, len(keys))
	for _, key := range keys {
		src, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("source %q: %w", key, crawler.ErrUnknownSource)
		}
		out = append(out, src)
	}
	return out, nil
}
