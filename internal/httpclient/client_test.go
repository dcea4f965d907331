package httpclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/offline-sync/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// Closing a server with keep-alives enabled can affect other parallel tests
// sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestNewDefaultClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "custom timeout", timeout: 5 * time.Second, want: 5 * time.Second},
		{name: "zero timeout uses default", timeout: 0, want: httpclient.DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(tt.timeout)
			require.NotNil(t, client)
			assert.Equal(t, tt.want, client.Timeout())
		})
	}
}

func TestDefaultClient_Get(t *testing.T) {
	t.Parallel()

	var receivedUserAgent, receivedAccept string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUserAgent = r.Header.Get("User-Agent")
		receivedAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"message": "success"}`))
	}))
	defer server.Close()

	data, err := httpclient.NewDefaultClient(time.Second).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message": "success"}`, string(data))
	assert.Equal(t, httpclient.UserAgent, receivedUserAgent)
	assert.Equal(t, "application/json", receivedAccept)
}

func TestDefaultClient_Get_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{name: "404 Not Found", statusCode: http.StatusNotFound},
		{name: "429 Too Many Requests", statusCode: http.StatusTooManyRequests},
		{name: "500 Internal Server Error", statusCode: http.StatusInternalServerError},
		{name: "503 Service Unavailable", statusCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			_, err := httpclient.NewDefaultClient(time.Second).Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), fmt.Sprintf("HTTP %d", tt.statusCode))

			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.statusCode, httpErr.HTTPStatusCode())
		})
	}
}

func TestDefaultClient_Do(t *testing.T) {
	t.Parallel()

	var (
		method, contentType, idempotencyKey string
		body                                []byte
	)
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		idempotencyKey = r.Header.Get("Idempotency-Key")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Request-Id", "abc")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"id":"emp-1"}`))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Idempotency-Key", "entry-1")

	resp, err := httpclient.NewDefaultClient(time.Second).Do(
		context.Background(), http.MethodPut, server.URL+"/employee/emp-1", []byte(`{"name":"A"}`), header)
	require.NoError(t, err, "non-2xx responses are returned, not errors")

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "entry-1", idempotencyKey)
	assert.JSONEq(t, `{"name":"A"}`, string(body))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "abc", resp.Header.Get("X-Request-Id"))
	assert.JSONEq(t, `{"id":"emp-1"}`, string(resp.Body))
}

func TestDefaultClient_Do_WithoutBody(t *testing.T) {
	t.Parallel()

	var contentType string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := httpclient.NewDefaultClient(time.Second).Do(
		context.Background(), http.MethodDelete, server.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, contentType)
	assert.Empty(t, resp.Body)
}

func TestDefaultClient_NetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		url           string
		errorContains string
	}{
		{name: "invalid URL scheme", url: "://invalid-url", errorContains: "failed to create request"},
		{name: "unreachable host", url: "http://invalid-host-does-not-exist.local:9999", errorContains: "failed to execute request"},
		{name: "empty URL", url: "", errorContains: "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := httpclient.NewDefaultClient(time.Second).Get(context.Background(), tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestDefaultClient_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := httpclient.NewDefaultClient(30*time.Second).Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultClient_SizeLimitExceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "via Content-Length",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", httpclient.MaxResponseSize+1))
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			name: "by actual content",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				chunk := make([]byte, 1024*1024)
				for range 11 {
					_, _ = w.Write(chunk)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(tt.handler)
			defer server.Close()

			_, err := httpclient.NewDefaultClient(5*time.Second).Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "exceeds maximum allowed size")
		})
	}
}
