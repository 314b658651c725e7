// Package main hosts the task tracking service entrypoint.
//
// Architecture overview:
//   - Tracker: internal/track.Tracker is the heart of the service. A single event
//     loop owns task records, per-task progress samples, websocket connections,
//     and the aggregate fan-out map; public methods post commands to the loop, so
//     none of that state needs a lock. Push frames and poll snapshots both flow
//     through one arbitration function, which keeps push authoritative while a
//     channel is open and lets polling take over when it is not.
//   - Channels: internal/channel wraps one coder/websocket connection per tracked
//     task. It speaks the line-level ping/pong keepalive, decodes envelope frames,
//     drops malformed or off-topic payloads, and reports a terminal closed/error
//     event before shutting its event stream.
//   - Backend client: internal/backend consumes the task REST API (list, poll
//     config) and dials push channels, attaching the API key and a request id to
//     every call.
//   - Poller: internal/track.Poller waits for the backend's poll configuration
//     (retrying until it arrives), then re-fetches the task list on a jittered
//     interval. Ticks skip the network entirely while every running task has a
//     live channel.
//   - Notification & sinks: status transitions are batched by internal/track's
//     Notifier and delivered to listeners: zap logging, Prometheus metrics, and
//     an optional Postgres transition journal (internal/storage/postgres).
//   - Status API: internal/api serves the tracked record list, per-task detail
//     with computed ETAs, subscriptions, health/readiness probes, and /metrics
//     over chi.
//   - Configuration & plumbing: Viper populates config from env/files (prefix
//     TASKTRACK); zap provides structured logging; shutdown is coordinated via
//     signal.NotifyContext, draining the HTTP server, tracker, notifier, and
//     journal in that order.
//
// Run locally: go run ./cmd/tasktrack -config config.yaml (or rely solely on
// env overrides such as TASKTRACK_BACKEND_BASE_URL).
package main
