package handler

import (
	"database/sql"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeDB struct {
	stats map[string]string
}

func (f fakeDB) DB() *sql.DB { return nil }

func (f fakeDB) Health() map[string]string { return f.stats }

func (f fakeDB) Close() error { return nil }

func TestHealth(t *testing.T) {
	cases := map[string]int{"up": http.StatusOK, "down": http.StatusServiceUnavailable}
	for status, code := range cases {
		r := gin.New()
		NewBaseHandler(zap.NewNop(), fakeDB{stats: map[string]string{"status": status}}).RegisterRoutes(r)

		w := do(r, http.MethodGet, "/health", "")
		assert.Equal(t, code, w.Code, status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := gin.New()
	NewBaseHandler(zap.NewNop(), fakeDB{stats: map[string]string{"status": "up"}}).RegisterRoutes(r)

	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
