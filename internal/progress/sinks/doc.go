// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and live run progress in a store.ProgressRecorder.
package sinks
