package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-coupon/internal/common"
)

type envelope struct {
	Error common.ErrorBody `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestWriteErrorAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	cause := errors.New("upstream")
	err := fmt.Errorf("wrapped: %w", common.NewAppError(common.CodeNoItemPrice, "MLA9 has no price", http.StatusBadRequest, cause).WithDetails([]string{"MLA9"}))

	common.WriteError(rr, err)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decode(t, rr)
	require.Equal(t, common.CodeNoItemPrice, body.Error.Code)
	require.Equal(t, "MLA9 has no price", body.Error.Message)
	require.Equal(t, []any{"MLA9"}, body.Error.Details)
	require.ErrorIs(t, err, cause)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("secret dsn"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	require.Equal(t, common.CodeInternal, body.Error.Code)
	require.NotContains(t, rr.Body.String(), "secret")
}

func TestRouterFallbacks(t *testing.T) {
	rr := httptest.NewRecorder()
	common.NotFound(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, common.CodeNotFound, decode(t, rr).Error.Code)

	rr = httptest.NewRecorder()
	common.MethodNotAllowed(rr, httptest.NewRequest(http.MethodGet, "/coupon", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "GET is not supported for this resource", decode(t, rr).Error.Message)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/coupon", nil)
	req.Header.Set("Content-Type", "text/plain")
	common.UnsupportedMediaType(rr, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	require.Equal(t, common.CodeUnsupportedMedia, decode(t, rr).Error.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", common.ClientIP(req))

	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "2001:db8::1", common.ClientIP(req))

	req.RemoteAddr = "192.0.2.9"
	require.Equal(t, "192.0.2.9", common.ClientIP(req))

	// forwarding headers alone are not trusted
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "192.0.2.9", common.ClientIP(req))

	require.Empty(t, common.ClientIP(nil))
}

func TestClientIPBehindRealIP(t *testing.T) {
	var got string
	handler := middleware.RealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = common.ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "203.0.113.5", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Real-IP", "192.0.2.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "192.0.2.7", got)
}
