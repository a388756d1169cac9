package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHTTPTimeout bounds a single fetch or upload
	DefaultHTTPTimeout = 30 * time.Second

	maxBlobBytes = 32 << 20
)

// HTTPFetcher fetches blobs over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher. A nil client uses DefaultHTTPTimeout.
func NewHTTPFetcher(client *http.Client, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch GETs url. 403 maps to ErrAccessDenied, 404 to ErrNotFound, any other
// non-OK status or transport failure to ErrNetwork, and an empty OK body to
// ErrEmptyFile.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, rawURL)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: unexpected status %d for %s", ErrNetwork, resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, rawURL)
	}
	return data, nil
}

// HTTPStorage uploads blobs to a grant file server and returns the URL it
// assigns.
type HTTPStorage struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// Compile-time interface compliance check
var _ Storage = (*HTTPStorage)(nil)

type uploadResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPStorage creates an uploader posting to endpoint.
func NewHTTPStorage(endpoint string, client *http.Client, logger *zap.Logger) *HTTPStorage {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStorage{endpoint: endpoint, client: client, logger: logger}
}

// Upload POSTs data and returns the URL from the response envelope.
func (s *HTTPStorage) Upload(ctx context.Context, name string, data []byte) (string, error) {
	target := s.endpoint
	if name != "" {
		target += "?name=" + url.QueryEscape(name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBlobBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: invalid upload response (status %d): %v", ErrNetwork, resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, out.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: upload rejected (%s): %s", ErrNetwork, out.Error.Code, out.Error.Message)
	}
	if out.Data.URL == "" {
		return "", fmt.Errorf("%w: upload response has no url", ErrNetwork)
	}

	s.logger.Debug("blob uploaded", zap.String("url", out.Data.URL), zap.Int("size", len(data)))
	return out.Data.URL, nil
}
