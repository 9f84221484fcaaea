package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cctelegram/bridge/pkg/events"
)

// Client is the Tier-2 dispatcher: it POSTs an event to a Processor's HTTP
// surface with an HMAC signature, satisfying tier.Dispatcher structurally.
type Client struct {
	baseURL    string
	hmacSecret []byte
	httpClient *http.Client
}

// NewClient returns a Client targeting baseURL (e.g. "http://127.0.0.1:8081").
func NewClient(baseURL string, hmacSecret []byte, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, hmacSecret: hmacSecret, httpClient: httpClient}
}

// Dispatch POSTs e to the processor's /internal/events endpoint, signing
// the request body and failing closed on any non-2xx or transport error.
func (c *Client) Dispatch(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event for internal dispatch: %w", err)
	}

	tsHeader, sig := Sign(c.hmacSecret, time.Now(), body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build internal dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", tsHeader)
	req.Header.Set("X-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("internal dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("internal processor returned status %d", resp.StatusCode)
	}

	var a ack
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return fmt.Errorf("decode internal processor ack: %w", err)
	}
	if !a.Processed {
		return fmt.Errorf("internal processor did not process event: %s", a.Error)
	}
	return nil
}
