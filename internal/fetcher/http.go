package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"odds-oracle/internal/retry"
)

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api error (%d)", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s api error (%d): %s", e.Service, e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// do executes req and returns the body of a 2xx response. Client errors other
// than 429 are marked permanent so the caller's retry policy gives up early.
func do(client *http.Client, logger zerolog.Logger, service string, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", service, err)
	}
	logger.Debug().Str("url", req.URL.Redacted()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{Service: service, StatusCode: resp.StatusCode, Message: errorMessage(body)}
		if httpErr.Temporary() {
			return nil, httpErr
		}
		return nil, retry.Permanent(httpErr)
	}
	return body, nil
}

func errorMessage(payload []byte) string {
	var apiErr struct {
		Detail      string `json:"detail"`
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return apiErr.Detail
		case apiErr.Description != "":
			return apiErr.Description
		case apiErr.Message != "":
			return apiErr.Message
		}
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func userAgentOr(ua string) string {
	if ua = strings.TrimSpace(ua); ua != "" {
		return ua
	}
	return "oddsoracle/1.0"
}
