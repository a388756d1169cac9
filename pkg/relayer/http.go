package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single relayer round trip
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
)

// HTTPClient posts requests as JSON to a relayer endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// Compile-time interface compliance check
var _ Relayer = (*HTTPClient)(nil)

// NewHTTPClient creates a relayer client for endpoint. A nil client uses a
// client with DefaultTimeout.
func NewHTTPClient(endpoint string, client *http.Client, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{endpoint: endpoint, client: client, logger: logger}
}

// Submit posts req and decodes the relayer response. Connection and read
// failures, and non-200 answers without an envelope, wrap ErrTransport. A
// 200 answer that is not an envelope wraps ErrInvalidResponse. A
// relayer-level error is returned as a Response of type "error" so the
// caller can classify it.
func (c *HTTPClient) Submit(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relayer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build relayer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("relayer request failed",
			zap.String("operation", string(req.Operation)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
		}
		c.logger.Warn("relayer returned malformed response",
			zap.String("operation", string(req.Operation)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	// Some relayers report failures with a non-2xx status and no envelope
	if out.Type == "" && resp.StatusCode != http.StatusOK {
		out = Response{Type: TypeError, Error: fmt.Sprintf("relayer returned status %d", resp.StatusCode)}
	}

	c.logger.Debug("relayer responded",
		zap.String("operation", string(req.Operation)),
		zap.String("type", out.Type),
		zap.Int("status", resp.StatusCode),
	)
	return &out, nil
}
