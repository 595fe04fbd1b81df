// Package store declares the crawl run model and the interfaces used to
// persist runs, their live progress, and their final results.
package store
