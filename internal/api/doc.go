// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /v1/competitor-ads?week=yyyy-mm-dd for the weekly payload.
//   - GET /v1/competitor-ads/status for fill progress of recent weeks.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
