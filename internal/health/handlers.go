package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/backend-coupon/internal/common"
)

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingCache(ctx context.Context, timeout time.Duration) error
}

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. The server flips it off when shutdown begins so
// load balancers stop routing new requests.
func SetReady(v bool) {
	ready.Store(v)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	CacheDriver  string
	CacheTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	cacheStatus := "ok"
	if err := h.Checker.PingCache(r.Context(), h.cacheTimeout()); err != nil {
		cacheStatus = err.Error()
	}
	status := map[string]string{
		"status": "ok",
		"cache":  cacheStatus,
	}
	if h.CacheDriver != "" {
		status["cache_driver"] = h.CacheDriver
	}
	code := http.StatusOK
	if cacheStatus != "ok" {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) cacheTimeout() time.Duration {
	if h.CacheTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.CacheTimeout
}
