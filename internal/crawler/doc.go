// Package crawler holds the building blocks of a broken-link crawl: the
// frontier and visited set, the response cache, the resource validator, the
// record registry, and the statistics aggregator. The orchestration that wires
// them to a worker pool lives in package checker.
package crawler
