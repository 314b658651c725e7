// Package track holds the tracking core: the subscription registry, the
// reconciler arbitrating push and poll updates, the ETA estimator, the
// aggregate fan-out coordinator, and the polling fallback scheduler. All
// mutable state is owned by one event loop per Tracker; nothing here is a
// package-level singleton.
package track
