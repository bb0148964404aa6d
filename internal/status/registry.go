package status

import (
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// Registry owns one Tracker per configured source. The set of sources is
// fixed at construction, so lookups need no locking.
type Registry struct {
	trackers map[string]*Tracker
	keys     []string
}

// Option customizes a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	capacity int
	clock    crawler.Clock
	logger   *zap.Logger
}

// WithLogCapacity overrides the per-source log ring size.
func WithLogCapacity(n int) Option {
	return func(o *registryOptions) { o.capacity = n }
}

// WithClock injects the clock used to timestamp transitions and logs.
func WithClock(c crawler.Clock) Option {
	return func(o *registryOptions) { o.clock = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *registryOptions) { o.logger = l }
}

// NewRegistry builds an Idle tracker for every key.
func NewRegistry(keys []string, opts ...Option) *Registry {
	o := registryOptions{capacity: DefaultLogCapacity, clock: system.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{trackers: make(map[string]*Tracker, len(keys))}
	for _, key := range keys {
		if _, dup := r.trackers[key]; dup {
			continue
		}
		r.trackers[key] = newTracker(key, o.capacity, o.clock, o.logger)
		r.keys = append(r.keys, key)
	}
	sort.Strings(r.keys)
	return r
}

// Get returns the tracker for key.
func (r *Registry) Get(key string) (*Tracker, bool) {
	t, ok := r.trackers[key]
	return t, ok
}

// Keys lists the registered sources in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Snapshots returns a snapshot of every tracker keyed by source.
func (r *Registry) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot, len(r.trackers))
	for key, t := range r.trackers {
		out[key] = t.Snapshot()
	}
	return out
}
