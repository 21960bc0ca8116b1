// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/{id}/... for job submission and lifecycle.
//   - GET /v1/jobs/{id}/progress for Server-Sent Events progress streaming.
//   - POST /v1/feedback and GET /v1/training/{signal_id}/... for the
//     training feedback loop.
//   - POST /v1/training/match for semantic matching of text against
//     learned signal patterns.
package api
