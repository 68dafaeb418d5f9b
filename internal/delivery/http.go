package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/formcheck/internal/session"
)

// HTTP defaults.
const (
	DefaultURL     = "http://localhost:3000/api/v1/log-session"
	DefaultTimeout = 10 * time.Second
)

// maxErrorBody bounds how much of a rejected response is kept in the error.
const maxErrorBody = 512

// HTTPClient posts summaries as JSON to the logging service.
type HTTPClient struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPClient creates an HTTPClient. Empty values use DefaultURL and DefaultTimeout.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		URL:  url,
		HTTP: &http.Client{Timeout: timeout},
	}
}

// Deliver posts the summary's payload. Any 2xx response is a success.
func (c *HTTPClient) Deliver(ctx context.Context, s *session.Summary) error {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: DefaultTimeout}
	}

	body, err := json.Marshal(NewPayload(s))
	if err != nil {
		return &Error{Err: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &Error{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Close does nothing.
func (c *HTTPClient) Close() error {
	return nil
}
