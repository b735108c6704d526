package domain

import "errors"

var (
	// ErrEmptyQuery is returned when a search has no query text
	ErrEmptyQuery = errors.New("search query is required")
	// ErrInvalidZip is returned for a ZIP code that is not 5 digits
	ErrInvalidZip = errors.New("invalid ZIP code: must be 5 digits")
	// ErrInvalidRadius is returned for a radius outside the supported range
	ErrInvalidRadius = errors.New("invalid radius: must be between 1 and 50 miles")

	// ErrCacheMiss is returned by cache backends when a key is absent or expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrJobNotFound is returned when a job handle does not exist
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when enqueueing on a closed queue
	ErrQueueClosed = errors.New("job queue is closed")
)
