// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /api/cassettes serves the published catalog with an ETag.
//   - GET /api/play/{uuid} and /api/stop drive the single player.
//   - GET /api/status reports catalog state and the playing cassette.
//   - GET /healthz / readyz for probes; readyz fails until a catalog is
//     published.
//   - GET /metrics for Prometheus scraping.
//
// Unmatched GETs fall through to the static frontend when one is configured.
package api
