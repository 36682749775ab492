package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/hive-market/internal/adapter/storage"
	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/service"
	"github.com/rl1809/hive-market/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.Reject(domain.ErrEmptyCart, domain.EntityCart, "b"), http.StatusBadRequest},
		{domain.ErrInsufficientStock, http.StatusConflict},
		{domain.Reject(domain.ErrNotOwner, domain.EntityOrder, "o"), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.RejectWith(domain.ErrGatewayFailure, domain.EntityOrder, "o", errors.New("declined")), http.StatusBadGateway},
		{domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func newTestHandler(t *testing.T, m *metrics.Metrics) (*HTTPHandler, *storage.MemoryAdapter) {
	t.Helper()
	store := storage.NewMemoryAdapter()
	svc := Services{Accounts: service.NewAccountService(store, nil)}
	return NewHTTPHandler(svc, nil, m, ""), store
}

func serve(h http.Handler, method, path, account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(DefaultAccountHeader, account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t, metrics.New())
	r := h.Router()

	rec := serve(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hivemarket_http_requests_total")
}

func TestMetricsRouteNeedsCollectors(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	assert.Equal(t, http.StatusNotFound, serve(h.Router(), http.MethodGet, "/metrics", "", "").Code)
}

func TestAuthentication(t *testing.T) {
	h, store := newTestHandler(t, nil)
	r := h.Router()
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, domain.Buyer{ID: "b1", Name: "Ada"}))
	require.NoError(t, store.SaveAccount(ctx, domain.Producer{ID: "p1", Name: "Bea", ApiaryName: "North"}))

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/accounts/me", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/accounts/me", "nobody", "").Code)

	rec := serve(r, http.MethodGet, "/api/v1/accounts/me", "p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"role":"producer","account":{"id":"p1","name":"Bea","apiary_name":"North"}}`, rec.Body.String())

	// producers have no cart
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/cart", "p1", "").Code)
}

func TestCustomAccountHeader(t *testing.T) {
	store := storage.NewMemoryAdapter()
	require.NoError(t, store.SaveAccount(context.Background(), domain.Buyer{ID: "b1", Name: "Ada"}))
	h := NewHTTPHandler(Services{Accounts: service.NewAccountService(store, nil)}, nil, nil, "X-User")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	req.Header.Set("X-User", "b1")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	r := h.Router()

	rec := serve(r, http.MethodPost, "/api/v1/accounts", "", `{"role":"buyer"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/accounts", "", `{"role":"queen","name":"Q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_account")

	rec = serve(r, http.MethodPost, "/api/v1/accounts", "", `{"role":"buyer","name":"Ada","shipping_address":"1 Hive Lane"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
