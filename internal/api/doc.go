// Package api hosts the operator HTTP endpoint that runs next to a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the quota snapshot of the active run.
//   - GET /v1/runs/last for the summary of the last finished run.
package api
