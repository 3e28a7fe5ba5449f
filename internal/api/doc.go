// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to run a harvest job for a topic. With server.async_jobs
//     the job is queued for the dispatcher workers and 202 is returned.
//   - POST /v1/probe for a one-off accessibility diagnosis of a URL.
//   - GET /api/jobs, /api/jobs/{id} and /api/jobs/{id}/domains for progress
//     reporting via the ProgressRepository interface.
package api
