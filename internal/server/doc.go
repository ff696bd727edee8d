// Package server exposes the bridge's HTTP API.
//
// The API layer owns credential persistence and adapter lifecycle: it
// validates candidate configurations, probes connectivity before a
// credential is stored, and caches one calendar adapter per stored
// credential. Error responses carry the adapter's user-safe message and a
// machine-readable kind; raw endpoints and upstream error text never reach
// the client.
//
// Prometheus metrics are served on a dedicated port, isolated from API
// traffic. Health endpoints follow the Kubernetes liveness/readiness
// convention.
package server
