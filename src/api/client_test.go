package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL + "/api/", Timeout: time.Second}, zerolog.Nop())
}

func writeEnvelope(w http.ResponseWriter, errCode any, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"error": errCode, "data": data})
}

func TestGetSubmission(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/submission", r.URL.Path)
		assert.Equal(t, "sub-1", r.URL.Query().Get("id"))
		writeEnvelope(w, nil, map[string]any{
			"id":     "sub-1",
			"result": 0,
			"statistic_info": map[string]any{
				"time_cost":   15,
				"memory_cost": 1024,
			},
		})
	})

	sub, err := NewOJ(c).GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, types.ResultAccepted, sub.Result)
	assert.Equal(t, 15, sub.StatisticInfo.TimeCost)
}

func TestEnvelopeError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "permission-denied", "Please login first")
	})

	_, err := NewOJ(c).GetSubmission(context.Background(), "x")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "permission-denied", apiErr.Code)
	assert.Equal(t, "Please login first", apiErr.Message)
}

func TestUnexpectedStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Get(context.Background(), "website", nil, nil)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestSubmitCodeSendsJSON(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"problem_id":42,"language":"Python3","code":"print(1)"}`, string(body))
		writeEnvelope(w, nil, map[string]any{"submission_id": "sub-42"})
	})

	id, err := NewOJ(c).SubmitCode(context.Background(), SubmitCodeRequest{
		ProblemID: 42,
		Language:  "Python3",
		Code:      "print(1)",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-42", id)
}

func TestPutAndDelete(t *testing.T) {
	var methods []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		writeEnvelope(w, nil, nil)
	})

	require.NoError(t, c.Put(context.Background(), "admin/website", map[string]any{"website_name": "OJ"}, nil))
	require.NoError(t, c.Delete(context.Background(), "admin/announcement", nil, nil))
	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestGetWebsiteConfig(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil, map[string]any{"website_name": "Online Judge", "allow_register": true})
	})

	cfg, err := NewOJ(c).GetWebsiteConfig(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `"Online Judge"`, string(cfg["website_name"]))
	assert.JSONEq(t, `true`, string(cfg["allow_register"]))
}

func TestCanceledContext(t *testing.T) {
	c := NewHTTPClient(Config{BaseURL: "http://127.0.0.1:1"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "submission", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
