// Package admin serves the daemon's read-only HTTP API.
//
// # Routes
//
//	GET /stamp          current registry modification stamp
//	GET /plugins        active plugins in arrival order
//	GET /plugins/{id}   one active plugin
//	GET /types          registered source root types
//	GET /projects       open projects with folder and placeholder counts
//	GET /health         readiness (also /health/ready and /health/live)
//	GET /metrics        Prometheus metrics
package admin
