// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/crawl/start and /api/crawl/cancel for run lifecycle control.
//   - GET /api/status for the live run snapshot.
//   - GET /api/articles and /api/search for stored-article reads.
//   - GET /api/runs and /api/runs/{run_id} for run history.
//   - GET /api/events for the Server-Sent-Events progress stream.
package api
