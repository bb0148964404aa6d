// Package api hosts the HTTP adapter over the crawl engine. Notable routes:
//   - GET /healthz for liveness probes and GET /metrics for Prometheus.
//   - GET /v1/sources and /v1/sources/{key}/status for per-source run state.
//   - POST /v1/sources/{key}/crawl to submit a run to the worker pool.
//   - GET /v1/articles, /v1/articles/body and /v1/stats for stored listings.
//   - /v1/selection to star, unstar and list articles.
//   - GET /v1/jobs and POST /v1/jobs/{id}/trigger for the scheduler.
package api
