package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChecker(t *testing.T) {
	c := NewChecker("test", nil)
	c.Register("database", pingFunc(func(context.Context) error { return nil }))
	c.Register("redis", nil)

	report := c.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "database", report.Checks[0].Name)

	w := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	c.Register("objects", pingFunc(func(context.Context) error { return errors.New("bucket missing") }))

	report = c.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "objects", report.Checks[1].Name)
	assert.Equal(t, "bucket missing", report.Checks[1].Message)

	w = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	c.LiveHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
