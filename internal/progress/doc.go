// Package progress carries crawl progress events from workers to sinks. A Hub
// buffers events without blocking the caller, batches them on a background
// goroutine, and hands each batch to every registered Sink.
package progress
