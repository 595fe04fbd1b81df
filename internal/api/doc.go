// Package api hosts the HTTP server, middleware, and REST handlers of the
// crawl service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to submit a crawl, GET /v1/crawls to list runs.
//   - GET /v1/crawls/{run_id} for status, progress, and statistics.
//   - GET /v1/crawls/{run_id}/report?format= for the rendered report.
package api
