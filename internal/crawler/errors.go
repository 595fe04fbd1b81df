package crawler

import "errors"

var (
	// ErrInvalidState is returned when an operation is called out of order,
	// such as requesting a report before any crawl has completed.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidConfig marks configuration that prevents a crawl from starting.
	ErrInvalidConfig = errors.New("invalid config")
)
