package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusServer(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		code := codes[len(codes)-1]
		if n <= len(codes) {
			code = codes[n-1]
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"errorMessage":"x"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(retries int) *Client {
	return NewClient(ClientOptions{
		Timeout:         time.Second,
		RequestsPerSec:  100,
		MaxRetries:      retries,
		MaxRetryTimeout: 5 * time.Second,
	})
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	srv, calls := statusServer(t, http.StatusBadGateway, http.StatusOK)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := newTestClient(2).DoRequest(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDoRequest_ClientErrorIsPermanent(t *testing.T) {
	srv, calls := statusServer(t, http.StatusUnauthorized)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = newTestClient(3).DoRequest(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "errorMessage")
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoRequest_NoRetriesByDefault(t *testing.T) {
	srv, calls := statusServer(t, http.StatusServiceUnavailable)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = newTestClient(0).DoRequest(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.False(t, IsStatus(err, http.StatusBadGateway))
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoRequest_CancelledContext(t *testing.T) {
	srv, calls := statusServer(t, http.StatusOK)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = newTestClient(0).DoRequest(ctx, req)
	assert.Error(t, err)
	assert.Zero(t, calls.Load())
}
