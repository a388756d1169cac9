// Package storage holds the blob storage capabilities used for grant files
// and encrypted data files.
package storage

import (
	"context"
	"errors"
)

// Error definitions
var (
	ErrNotFound     = errors.New("file not found")
	ErrAccessDenied = errors.New("access denied")
	ErrEmptyFile    = errors.New("file is empty")
	ErrNetwork      = errors.New("network error")
)

// Storage persists a blob and returns a URL it can be fetched from.
type Storage interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Fetcher retrieves a blob by URL. Implementations classify failures with
// the sentinels above.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StoreFunc adapts a function to Storage.
type StoreFunc func(ctx context.Context, name string, data []byte) (string, error)

// Upload calls f.
func (f StoreFunc) Upload(ctx context.Context, name string, data []byte) (string, error) {
	return f(ctx, name, data)
}
