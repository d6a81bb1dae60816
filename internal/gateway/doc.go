// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes component wiring, the HTTP surface, and lifecycle

// Package gateway orchestrates the ois-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns
// the durable store, the websocket hub (router, registry, dispatcher),
// the presence tracker, the liveness monitor, the task reminder
// scheduler, and the HTTP server everything hangs off.
//
// # HTTP Surface
//
//	GET  /ws                         websocket endpoint for operators and agents
//	GET  /health                     liveness probe
//	GET  /health/ready               readiness probe (store reachability)
//	POST /api/login                  exchange operator credentials for a session token
//	GET  /api/agents/status          merged presence snapshot with live-connection flags
//	GET  /api/agents/connected       identities with a live transport on this instance
//	POST /api/agents/{name}/command  dispatch an allow-listed command, wait for the ack
//	GET  /api/messages               recent chat history
//	POST /api/tasks                  create a task
//	GET  /api/tasks                  list tasks, filterable by status and assignee
//	GET  /api/tasks/{id}             fetch one task
//	PATCH /api/tasks/{id}            partial task update
//	DELETE /api/tasks/{id}           delete a task
//
// All /api routes except login require a Bearer session token obtained
// from POST /api/login.
//
// # Lifecycle
//
// New wires components without listening. Run creates the listener
// (plain TCP, or a tsnet node when Tailscale is enabled), starts the
// liveness monitor and scheduler goroutines, serves until the context
// is canceled, then shuts down gracefully: the HTTP server drains,
// outstanding commands fail with a timeout, and the store closes.
package gateway
