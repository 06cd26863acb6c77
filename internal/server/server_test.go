package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) error { return nil }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all components up",
			checks:     map[string]HealthChecker{"database": HealthCheckFunc(healthy), "redis": HealthCheckFunc(healthy)},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name: "database down",
			checks: map[string]HealthChecker{
				"database": HealthCheckFunc(func(context.Context) error { return errors.New("connection refused") }),
				"redis":    HealthCheckFunc(healthy),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
		},
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1:0", "release", tt.checks)

			w := httptest.NewRecorder()
			srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.wantStatus, w.Code)
			var body struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Len(t, body.Components, len(tt.checks))
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := New("127.0.0.1:0", "release", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}
