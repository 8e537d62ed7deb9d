// Package api hosts the ops HTTP server that runs beside a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run progress read from a
//     store.RunRepository.
package api
