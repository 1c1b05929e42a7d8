package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(TraceID())
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})
	return r
}

func TestTraceID_Generated(t *testing.T) {
	r := newEngine()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	traceID := w.Header().Get(HeaderTraceID)
	assert.NotEmpty(t, traceID)
	assert.Equal(t, traceID, w.Body.String())
}

func TestTraceID_Propagated(t *testing.T) {
	r := newEngine()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderTraceID, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get(HeaderTraceID))
	assert.Equal(t, "trace-123", w.Body.String())
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(zap.NewNop(), rate.NewLimiter(rate.Limit(0.001), 2)))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSourceAllowlist(t *testing.T) {
	allow, err := SourceAllowlist(zap.NewNop(), []string{"185.71.76.0/27", "2a02:5180::/32"})
	require.NoError(t, err)
	r := newEngine(allow)

	cases := map[string]int{
		"185.71.76.5:5000":    http.StatusOK,
		"[2a02:5180::1]:5000": http.StatusOK,
		"203.0.113.9:5000":    http.StatusForbidden,
	}
	for addr, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, addr)
	}
}

func TestSourceAllowlist_EmptyAllowsAll(t *testing.T) {
	allow, err := SourceAllowlist(zap.NewNop(), nil)
	require.NoError(t, err)
	r := newEngine(allow)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSourceAllowlist_BadCIDR(t *testing.T) {
	_, err := SourceAllowlist(zap.NewNop(), []string{"not-a-cidr"})
	assert.Error(t, err)
}
