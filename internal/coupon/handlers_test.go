package coupon_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-coupon/internal/coupon"
	"github.com/noah-isme/backend-coupon/internal/prices"
	"github.com/noah-isme/backend-coupon/internal/security"
)

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newRouter(t *testing.T, source prices.StaticSource) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/coupon", coupon.NewHandler(newService(t, source)).Routes)
	return r
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/coupon", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestHandlerCalculate(t *testing.T) {
	h := newRouter(t, staticSource("MLA1", "100", "MLA2", "210", "MLA3", "260", "MLA4", "80", "MLA5", "90"))

	rr := post(t, h, `{"item_ids":["MLA1","MLA2","MLA3","MLA4","MLA5"],"amount":500}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"item_ids":["MLA1","MLA2","MLA4","MLA5"],"total":480}`, rr.Body.String())
}

func TestHandlerDecimalAmounts(t *testing.T) {
	h := newRouter(t, staticSource("A", "10.65", "B", "10.65"))

	rr := post(t, h, `{"item_ids":["A","B"],"amount":"21.30"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"item_ids":["A","B"],"total":21.3}`, rr.Body.String())
}

func TestHandlerNoItemPrice(t *testing.T) {
	h := newRouter(t, staticSource("A", "1"))

	rr := post(t, h, `{"item_ids":["A","X"],"amount":10}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeError(t, rr)
	require.Equal(t, "NO_ITEM_PRICE", env.Error.Code)
	require.Equal(t, "X has no price", env.Error.Message)
	require.JSONEq(t, `{"item_ids":["X"]}`, string(env.Error.Details))
}

func TestHandlerInsufficientAmount(t *testing.T) {
	h := newRouter(t, staticSource("A", "200.00"))

	rr := post(t, h, `{"item_ids":["A"],"amount":100}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	env := decodeError(t, rr)
	require.Equal(t, "INSUFFICIENT_AMOUNT", env.Error.Code)
	require.JSONEq(t, `{"amount":100}`, string(env.Error.Details))
}

func TestHandlerValidation(t *testing.T) {
	h := newRouter(t, staticSource("A", "1"))

	cases := map[string]string{
		"missing items":  `{"amount":10}`,
		"empty items":    `{"item_ids":[],"amount":10}`,
		"blank item":     `{"item_ids":[""],"amount":10}`,
		"missing amount": `{"item_ids":["A"]}`,
		"negative":       `{"item_ids":["A"],"amount":-1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := post(t, h, body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Equal(t, "VALIDATION_FAILED", decodeError(t, rr).Error.Code)
		})
	}
}

func TestHandlerPrecisionLossIsValidationError(t *testing.T) {
	h := newRouter(t, staticSource("A", "1.005"))
	rr := post(t, h, `{"item_ids":["A"],"amount":10}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", decodeError(t, rr).Error.Code)
}

func TestHandlerMalformedBody(t *testing.T) {
	h := newRouter(t, staticSource())
	rr := post(t, h, `{"item_ids":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "BAD_REQUEST", decodeError(t, rr).Error.Code)
}

func TestHandlerRejectsNonJSON(t *testing.T) {
	h := newRouter(t, staticSource())
	req := httptest.NewRequest(http.MethodPost, "/coupon", strings.NewReader(`item_ids=A`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	require.Equal(t, "UNSUPPORTED_MEDIA_TYPE", decodeError(t, rr).Error.Code)
}

func TestHandlerBodyTooLarge(t *testing.T) {
	r := chi.NewRouter()
	r.Use(security.BodyLimit{Max: 32}.Middleware)
	r.Route("/coupon", coupon.NewHandler(newService(t, staticSource("A", "1"))).Routes)

	body := `{"item_ids":["` + strings.Repeat("A", 64) + `"],"amount":1}`
	req := httptest.NewRequest(http.MethodPost, "/coupon", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rr).Error.Code)
}
