// Package sinks contains Listener implementations for the track.Notifier.
package sinks
