// Package api hosts the read-only HTTP status surface. Notable routes:
//   - GET /healthz and /readyz for liveness/readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/status for crawl progress and queue occupancy.
//   - GET /api/failed for the failed URL list with recorded reasons.
//   - GET /api/runs for persisted run summaries, newest first.
package api
