package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultSubmitTimeout = 5 * time.Second

// HTTPClient talks to the ledger gateway over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient returns HTTP client wrapper with a bounded per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SubmitEvent appends one event. The gateway deduplicates on EventKey, so a
// retry after a lost response is a no-op on the ledger side.
func (c *HTTPClient) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/ledger/events", c.baseURL), bytes.NewReader(data))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("ledger: submit returned status %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("ledger: decode receipt: %w", err)
	}
	return receipt, nil
}

// Ping probes the gateway health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger: health returned status %d", resp.StatusCode)
	}
	return nil
}

// Connect polls the gateway until it responds, then installs the client on
// the handle. It is meant to run in its own goroutine at startup so slow
// ledger bootstrap never delays serving lifecycle commands.
func Connect(ctx context.Context, handle *Handle, client *HTTPClient, retryInterval time.Duration) {
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, defaultSubmitTimeout)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			handle.Set(client)
			client.logger.Info("ledger connection established", zap.String("base_url", client.baseURL))
			return
		}
		client.logger.Warn("ledger not reachable yet", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
