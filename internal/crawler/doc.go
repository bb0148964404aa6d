// Package crawler holds the shared domain types, interfaces and sentinel
// errors used by the newspaper crawler. Concrete behavior lives in the
// discovery, orchestrator, storage and fetcher packages.
package crawler
