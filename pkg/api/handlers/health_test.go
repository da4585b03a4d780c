package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]Check
		status int
		want   map[string]string
	}{
		{
			name:   "all up",
			checks: map[string]Check{"database": up, "cache": up},
			status: http.StatusOK,
			want:   map[string]string{"status": "healthy", "database": "up", "cache": "up"},
		},
		{
			name:   "redis down",
			checks: map[string]Check{"database": up, "cache": down},
			status: http.StatusServiceUnavailable,
			want:   map[string]string{"status": "unhealthy", "database": "up", "cache": "down"},
		},
		{
			name:   "nil checks are skipped",
			checks: map[string]Check{"database": up, "cache": nil},
			status: http.StatusOK,
			want:   map[string]string{"status": "healthy", "database": "up"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

			require.NoError(t, NewHealthHandler(tt.checks).Health(c))
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body)
		})
	}
}
