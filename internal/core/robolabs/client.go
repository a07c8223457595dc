package robolabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"robolabs-sync/internal/core/httpclient"
	"robolabs-sync/internal/core/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestTimeout = 20 * time.Second

// Config holds the connection settings for the RoboLabs API.
type Config struct {
	// BaseURL is the API root, e.g. https://sandbox.robolabs.lt/api/v2.
	BaseURL string
	// APIKey is sent in the X-API-KEY header, never in the URL or body.
	APIKey string
	// Language is forwarded as ACCEPT-LANGUAGE (en_US or lt_LT).
	Language string
	// ExecuteImmediately asks the API to process writes synchronously when
	// possible; otherwise creation may return a job id to poll.
	ExecuteImmediately bool
	// RequestsPerSecond caps outgoing calls; 0 disables the limiter.
	RequestsPerSecond float64
}

// Client is a thin typed gateway over the RoboLabs HTTP API. It never returns
// Go errors for HTTP-level failures; every call yields a Result.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
}

// NewClient creates a RoboLabs API client.
func NewClient(cfg Config) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		httpClient: httpclient.NewClient(requestTimeout),
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Get issues a GET request against the given endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) Result {
	return c.Request(ctx, http.MethodGet, endpoint, query, nil)
}

// Post issues a POST request with a JSON body. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, endpoint string, body any) Result {
	return c.Request(ctx, http.MethodPost, endpoint, nil, body)
}

// Request executes an authenticated call and normalizes the response.
func (c *Client) Request(ctx context.Context, method, endpoint string, query url.Values, body any) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Kind: KindTransportError, Message: err.Error()}
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	hasBody := body != nil && method != http.MethodGet
	if hasBody {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{Kind: KindTransportError, Message: fmt.Sprintf("marshal request body: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Result{Kind: KindTransportError, Message: err.Error()}
	}

	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("ACCEPT-LANGUAGE", c.cfg.Language)
	req.Header.Set("EXECUTE_IMMEDIATELY", strconv.FormatBool(c.cfg.ExecuteImmediately))
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Get().Info("RoboLabs API request",
		zap.String("method", method),
		zap.String("url", u),
		zap.String("x_api_key", maskKey(c.cfg.APIKey)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Kind: KindTransportError, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Kind: KindTransportError, Message: fmt.Sprintf("read response body: %v", err), HTTPCode: resp.StatusCode}
	}

	logger.Get().Debug("RoboLabs API response",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("code", resp.StatusCode),
		zap.ByteString("body", raw),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return Result{
			Kind:       KindRateLimited,
			HTTPCode:   resp.StatusCode,
			Message:    "rate limit exceeded",
			RetryAfter: retryAfter,
			Body:       raw,
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{
			Kind:     KindFailure,
			HTTPCode: resp.StatusCode,
			Message:  extractErrorMessage(raw),
			Body:     raw,
		}
	}

	return Result{Kind: KindSuccess, HTTPCode: resp.StatusCode, Body: raw}
}

// extractErrorMessage digs a human-readable message out of the error body.
// The API is inconsistent: {error:{message}}, {message} and {result: "..."}
// all occur in the wild, so each envelope is tried in order.
func extractErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}

	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
		var result string
		if len(envelope.Result) > 0 && json.Unmarshal(envelope.Result, &result) == nil && result != "" {
			return result
		}
	}

	return string(raw)
}

// maskKey redacts the API credential for logging.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
