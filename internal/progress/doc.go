// Package progress carries run and page milestones from the orchestrator to
// pluggable sinks. Events are buffered by a Hub and delivered in batches on a
// background goroutine so emitters never block on a slow consumer.
package progress
