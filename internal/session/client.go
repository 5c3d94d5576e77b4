// Package session acquires session keys from the retrieval API's issuance
// endpoint. The collector must hold a key (and its resolved internal id)
// before touching the radio; issuance failure is fatal to the run.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds the issuance call.
const DefaultRequestTimeout = 10 * time.Second

// Client talks to the session-issuance endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *logrus.Logger
}

// NewClient creates a Client for the API at baseURL (scheme://host[:port],
// trailing slash tolerated). A nil logger gets a default one.
func NewClient(baseURL string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultRequestTimeout},
		logger:  logger,
	}
}

// NewSession requests a fresh session key. Any transport error or non-2xx
// response is returned as a failure; the caller does not retry.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	url := c.baseURL + "/session/new"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("request session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("request session: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		SessionKey string `json:"session_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if body.SessionKey == "" {
		return "", fmt.Errorf("session response missing session_key")
	}

	c.logger.WithField("session", body.SessionKey).Info("Created new session")
	return body.SessionKey, nil
}
