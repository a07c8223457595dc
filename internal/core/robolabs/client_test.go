package robolabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:            baseURL,
		APIKey:             "rl_test_key_1234",
		Language:           "en_US",
		ExecuteImmediately: true,
	})
}

// TestClient_Request_Success verifies headers and success normalization.
func TestClient_Request_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/partner/find", r.URL.Path)
		assert.Equal(t, "EWCUSR1", r.URL.Query().Get("external_id"))
		assert.Equal(t, "rl_test_key_1234", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "en_US", r.Header.Get("ACCEPT-LANGUAGE"))
		assert.Equal(t, "true", r.Header.Get("EXECUTE_IMMEDIATELY"))
		assert.Empty(t, r.URL.Query().Get("api_key"), "credential must never travel in the query string")

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[{"id":42}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	query := url.Values{}
	query.Set("external_id", "EWCUSR1")
	res := client.Get(context.Background(), "partner/find", query)

	require.True(t, res.OK())
	assert.Equal(t, http.StatusOK, res.HTTPCode)
	assert.NoError(t, res.Err())

	var decoded struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, res.Decode(&decoded))
	require.Len(t, decoded.Data, 1)
	assert.Equal(t, int64(42), decoded.Data[0].ID)
}

// TestClient_Request_PostBody verifies the JSON body and content type.
func TestClient_Request_PostBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "EWCUSR99", body["code"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	res := client.Post(context.Background(), "partner", map[string]string{"code": "EWCUSR99"})

	require.True(t, res.OK())
	assert.Equal(t, http.StatusCreated, res.HTTPCode)
}

// TestClient_Request_RateLimited verifies the Retry-After hint is captured.
func TestClient_Request_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	res := client.Get(context.Background(), "invoice/find", nil)

	assert.Equal(t, KindRateLimited, res.Kind)
	assert.Equal(t, 17, res.RetryAfter)

	err := res.Err()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.Retryable())
}

// TestClient_Request_ErrorEnvelopes verifies message extraction order.
func TestClient_Request_ErrorEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"NestedError", `{"error":{"message":"journal missing"}}`, "journal missing"},
		{"FlatMessage", `{"message":"bad partner"}`, "bad partner"},
		{"ResultString", `{"result":"duplicate code"}`, "duplicate code"},
		{"RawFallback", `not even json`, "not even json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			res := newTestClient(server.URL).Get(context.Background(), "invoice", nil)

			assert.Equal(t, KindFailure, res.Kind)
			assert.Equal(t, tc.want, res.Message)
		})
	}
}

// TestClient_Request_TransportError verifies network failures are a distinct kind.
func TestClient_Request_TransportError(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	res := client.Get(context.Background(), "partner", nil)

	assert.Equal(t, KindTransportError, res.Kind)
	assert.NotEmpty(t, res.Message)

	err := res.Err()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
}

// TestAPIError_Retryable pins the retry boundary: 429 and >=500 only.
func TestAPIError_Retryable(t *testing.T) {
	assert.True(t, (&APIError{Kind: KindRateLimited, HTTPCode: 429}).Retryable())
	assert.True(t, (&APIError{Kind: KindFailure, HTTPCode: 500}).Retryable())
	assert.True(t, (&APIError{Kind: KindFailure, HTTPCode: 503}).Retryable())
	assert.True(t, (&APIError{Kind: KindTransportError}).Retryable())
	assert.False(t, (&APIError{Kind: KindFailure, HTTPCode: 400}).Retryable())
	// 408 stays terminal: the policy retries only 429 and >=500.
	assert.False(t, (&APIError{Kind: KindFailure, HTTPCode: 408}).Retryable())
	assert.False(t, (&APIError{Kind: KindFailure, HTTPCode: 422}).Retryable())
}

// TestMaskKey verifies credential redaction.
func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "rl_t********1234", maskKey("rl_test_key_1234"))
}
