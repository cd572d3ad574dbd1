// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /api/v1/model creates or fetches a model and returns its label.
//   - GET /api/v1/model/sentence samples a stored model.
//   - GET and POST /api/v1/user list, enroll, and reassign simulated users.
//   - GET /api/v1/chat pages through the chat log.
//   - GET /api/v1/proxy passes an upstream body through unchanged.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
