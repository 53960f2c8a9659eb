package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMiddlewaresStacks ensures we get both public and ops middlewares
// stacks with exact number of elements in those stacks.
func TestMiddlewaresStacks(t *testing.T) {
	api, _ := testAPI(nil)
	pub, ops := api.MiddlewaresStacks()
	assert.Equal(t, 8, len(*pub))
	assert.Equal(t, 6, len(*ops))
}

// TestChain ensures each middleware in the stack is called as well the handler.
func TestChain(t *testing.T) {
	var ca, cb, cc, ch bool
	queue := make(chan int, 4)

	middlewareA := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 1
			ca = true
			next(w, r, ps)
		}
	}
	middlewareB := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 2
			cb = true
			next(w, r, ps)
		}
	}
	middlewareC := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 3
			cc = true
			next(w, r, ps)
		}
	}
	middlewares := Middlewares{
		middlewareA,
		middlewareB,
		middlewareC,
	}

	handler := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		queue <- 4
		ch = true
	}

	chained := (&middlewares).Chain(handler)
	req := httptest.NewRequest("GET", "/v1/books", nil)
	w := httptest.NewRecorder()
	chained(w, req, nil)

	t.Run("check calling", func(t *testing.T) {
		assert.Equal(t, true, ca)
		assert.Equal(t, true, cb)
		assert.Equal(t, true, cc)
		assert.Equal(t, true, ch)
	})

	t.Run("check ordering", func(t *testing.T) {
		assert.Equal(t, 1, <-queue)
		assert.Equal(t, 2, <-queue)
		assert.Equal(t, 3, <-queue)
		assert.Equal(t, 4, <-queue)
	})
}

// TestRequestsCounterMiddleware ensures the request counter increment.
func TestRequestsCounterMiddleware(t *testing.T) {
	api, _ := testAPI(nil)
	req := httptest.NewRequest("GET", "/v1/books", nil)
	w := httptest.NewRecorder()
	var number uint64
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		number = GetRequestNumberFromContext(req.Context())
	}
	wrapped := api.RequestsCounterMiddleware(handler)
	wrapped(w, req, nil)
	wrapped(w, req, nil)
	assert.Equal(t, uint64(2), number)
	assert.Equal(t, uint64(2), api.stats.called)
}

func TestRequestIDMiddleware(t *testing.T) {
	api, _ := testAPI(nil)
	var got string
	wrapped := api.RequestIDMiddleware(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		got = GetValueFromContext(r.Context(), RequestIDContextKey)
	})

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	wrapped(w, req, nil)
	assert.Equal(t, "r:abc", got)
	assert.Equal(t, "r:abc", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("X-Request-ID", "r:upstream")
	w = httptest.NewRecorder()
	wrapped(w, req, nil)
	assert.Equal(t, "r:upstream", got)
}

func TestStatsMiddleware(t *testing.T) {
	api, _ := testAPI(nil)
	wrapped := api.StatsMiddleware(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), nil)
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), nil)
	assert.Equal(t, uint64(2), api.stats.status[http.StatusTeapot])
}

func TestPanicRecoveryMiddleware(t *testing.T) {
	api, _ := testAPI(nil)
	wrapped := api.PanicRecoveryMiddleware(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("boom")
	})
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		wrapped(w, httptest.NewRequest("GET", "/v1/books", nil), nil)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMaintenanceModeMiddleware(t *testing.T) {
	api, _ := testAPI(nil)
	var reached bool
	wrapped := api.MaintenanceModeMiddleware(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		reached = true
	})

	w := httptest.NewRecorder()
	wrapped(w, httptest.NewRequest("GET", "/v1/books", nil), nil)
	assert.True(t, reached)

	api.mode.enabled.Store(true)
	api.mode.message = "upgrading storage"
	reached = false
	w = httptest.NewRecorder()
	wrapped(w, httptest.NewRequest("GET", "/v1/books", nil), nil)
	assert.False(t, reached)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsPath(t *testing.T) {
	testCases := []struct {
		path     string
		expected string
	}{
		{"/v1/books", "/v1/books"},
		{"/v1/books/42", "/v1/books/:id"},
		{"/v1/books/42/borrow", "/v1/books/:id/borrow"},
		{"/v1/books/abc", "/v1/books/abc"},
		{"/", "/"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, MetricsPath(tc.path), tc.path)
	}
}

//nolint:funlen
func TestGrant(t *testing.T) {
	api, _ := testAPI(nil)
	now := api.clock.Now()
	token := func(userID string, role Role, at time.Time) string {
		tk, err := IssueAccessToken(&api.config.Auth, userID, role, at)
		require.NoError(t, err)
		return "Bearer " + tk
	}

	var seen Identity
	protected := api.Grant(ActionDeleteAny, ResourceBook, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		seen, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	testCases := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing token", "", http.StatusUnauthorized, "missing access token"},
		{"not a bearer", "Basic YWxpY2U6cHdk", http.StatusUnauthorized, "missing access token"},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized, "invalid access token"},
		{"expired token", token("admin-1", RoleAdmin, now.Add(-2*time.Hour)), http.StatusUnauthorized, "invalid access token"},
		{"role not granted", token("alice", RoleUser, now), http.StatusUnauthorized, "not allowed to perform this action"},
		{"admin granted", token("admin-1", RoleAdmin, now), http.StatusNoContent, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/v1/books/1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			protected(w, req, nil)
			assert.Equal(t, tc.status, w.Code)
			if tc.message == "" {
				return
			}
			m := make(map[string]interface{})
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
			assert.Equal(t, tc.message, m["message"])
		})
	}

	assert.Equal(t, Identity{UserID: "admin-1", Role: RoleAdmin}, seen)
}

func TestGrant_KeepsRequestLogger(t *testing.T) {
	api, _ := testAPI(nil)
	tk, err := IssueAccessToken(&api.config.Auth, "alice", RoleUser, api.clock.Now())
	require.NoError(t, err)

	var logger *zap.Logger
	protected := api.Grant(ActionReadAny, ResourceBook, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		logger = api.GetLoggerFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/books", nil)
	req.Header.Set("Authorization", "bearer "+tk)
	req = req.WithContext(context.WithValue(req.Context(), LoggerContextKey, zap.NewNop()))
	protected(httptest.NewRecorder(), req, nil)
	require.NotNil(t, logger)
}
