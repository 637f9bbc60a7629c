package repository

import "errors"

// Repository errors
var (
	// ErrTransient marks a failure that may succeed on retry
	// (busy database, serialization failure, dropped connection).
	ErrTransient = errors.New("transient store failure")
)

// Cache and lock errors
var (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable indicates the cache is unavailable.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
