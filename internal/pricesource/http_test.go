package pricesource_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-coupon/internal/pricesource"
	"github.com/noah-isme/backend-coupon/internal/resilience"
)

func newSource(t *testing.T, handler http.HandlerFunc) *pricesource.HTTPSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := pricesource.NewHTTPSource(srv.URL+"/items", resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second})
	require.NoError(t, err)
	return src
}

func TestFetchPrice(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/MLA1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"MLA1","price":10.65,"title":"ignored"}`))
	})

	price, ok, err := src.FetchPrice(context.Background(), "MLA1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10.65", price.String())
}

func TestFetchPriceAbsent(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		"null price": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"X","price":null}`))
		},
		"missing price": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"X"}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			src := newSource(t, handler)
			_, ok, err := src.FetchPrice(context.Background(), "X")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestFetchPriceUpstreamFailures(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, ok, err := src.FetchPrice(context.Background(), "X")
	require.ErrorIs(t, err, pricesource.ErrUpstream)
	require.False(t, ok)

	src = newSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":`))
	})
	_, _, err = src.FetchPrice(context.Background(), "X")
	require.ErrorIs(t, err, pricesource.ErrUpstream)
}

func TestFetchPriceEscapesID(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/a%2Fb", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"id":"a/b","price":"1.5"}`))
	})
	price, ok, err := src.FetchPrice(context.Background(), "a/b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.5", price.String())
}

func TestNewHTTPSourceDefaults(t *testing.T) {
	src, err := pricesource.NewHTTPSource("", resilience.HTTPClient{})
	require.NoError(t, err)
	require.NotNil(t, src)
}
