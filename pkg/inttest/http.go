package inttest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/monica-infra/deployer/internal/middleware"
	"github.com/monica-infra/deployer/internal/server"
	"github.com/stretchr/testify/require"
)

// SetupHTTPServer starts the deployment API on the engine every route of the service is mounted
// on. Routes are registered by f. The returned client talks to the started server.
func SetupHTTPServer(t *testing.T, f func(engine *gin.Engine)) *HTTPClient {
	t.Helper()

	gin.SetMode(gin.TestMode)

	engine := server.GetEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
	f(engine)

	srv := httptest.NewServer(engine.Handler())
	client := srv.Client()
	t.Cleanup(func() {
		client.CloseIdleConnections()
		srv.Close()
	})

	return &HTTPClient{Client: client, ServerURL: srv.URL}
}

// HTTPClient sends requests to the deployment API and fails the test on unexpected responses.
type HTTPClient struct {
	Client    *http.Client
	ServerURL string
}

// WithHeader adds a header to the request.
func WithHeader(key string, value string) func(http.Header) {
	return func(header http.Header) {
		header.Add(key, value)
	}
}

// WithAuthToken authenticates the request with the API token.
func WithAuthToken(token string) func(http.Header) {
	return WithHeader("Authorization", "Bearer "+token)
}

// Get expects 200.
func (hc *HTTPClient) Get(t *testing.T, path string, headers ...func(http.Header)) []byte {
	t.Helper()
	return hc.Do(t, http.MethodGet, path, nil, http.StatusOK, headers...)
}

// Post expects 201, deployments are created.
func (hc *HTTPClient) Post(t *testing.T, path string, requestBody io.Reader, headers ...func(http.Header)) []byte {
	t.Helper()
	return hc.Do(t, http.MethodPost, path, requestBody, http.StatusCreated, headers...)
}

// Do sends the request and returns the response body. The test fails if the response status is
// not expectedStatus. The correlation ID of the response is part of the failure message.
func (hc *HTTPClient) Do(t *testing.T, method, path string, requestBody io.Reader, expectedStatus int, headers ...func(http.Header)) []byte {
	t.Helper()

	req, err := http.NewRequest(method, hc.ServerURL+path, requestBody)
	require.NoError(t, err, "failed to create request %s %q", method, path)
	for _, f := range headers {
		f(req.Header)
	}

	res, err := hc.Client.Do(req)
	require.NoError(t, err, "failed %s %q", method, path)
	defer func() {
		require.NoError(t, res.Body.Close(), "failed to close response body of %s %q", method, path)
	}()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err, "failed to read response body of %s %q", method, path)
	require.Equal(t, expectedStatus, res.StatusCode, "%s %q (correlation ID %q) responded: %s",
		method, path, res.Header.Get(middleware.HeaderCorrelationID), strings.TrimSpace(string(body)))
	return body
}

// DoJSON is [HTTPClient.Do] decoding the response body as JSON into responseBody.
func (hc *HTTPClient) DoJSON(t *testing.T, method, path string, requestBody io.Reader, expectedStatus int, responseBody any, headers ...func(http.Header)) {
	t.Helper()

	if requestBody != nil {
		headers = append(headers, WithHeader("Content-Type", "application/json"))
	}
	body := hc.Do(t, method, path, requestBody, expectedStatus, headers...)

	require.NoError(t, json.Unmarshal(body, responseBody), "failed to decode response body of %s %q: %s", method, path, body)
}

// GetJSON expects 200 and decodes the response body into responseBody.
func (hc *HTTPClient) GetJSON(t *testing.T, path string, responseBody any, headers ...func(http.Header)) {
	t.Helper()
	hc.DoJSON(t, http.MethodGet, path, nil, http.StatusOK, responseBody, headers...)
}

// PostJSON expects 201 and decodes the response body into responseBody. The request body is
// optional.
func (hc *HTTPClient) PostJSON(t *testing.T, path string, requestBody io.Reader, responseBody any, headers ...func(http.Header)) {
	t.Helper()
	hc.DoJSON(t, http.MethodPost, path, requestBody, http.StatusCreated, responseBody, headers...)
}
