package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/hive-market/internal/core/domain"
)

func TestHTTPGateway_Approved(t *testing.T) {
	var got chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "order-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved":true,"transaction_ref":"tx-42"}`))
	}))
	defer srv.Close()

	gw := NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL, APIKey: "secret"}, nil)
	res, err := gw.Charge(context.Background(), domain.Charge{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("13.50"),
		Currency: "EUR",
	})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "tx-42", res.TransactionRef)
	assert.Equal(t, "13.5", got.Amount)
	assert.Equal(t, "EUR", got.Currency)
}

func TestHTTPGateway_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"approved":false,"reason":"insufficient funds"}`))
	}))
	defer srv.Close()

	gw := NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL}, nil)
	res, err := gw.Charge(context.Background(), domain.Charge{OrderID: "o", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "insufficient funds", res.Reason)
}

func TestHTTPGateway_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL}, nil)
	_, err := gw.Charge(context.Background(), domain.Charge{OrderID: "o", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrGatewayStatus)
}

func TestHTTPGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := gw.Charge(context.Background(), domain.Charge{OrderID: "o", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator(decimal.NewFromInt(100), 0)
	ctx := context.Background()

	res, err := sim.Charge(ctx, domain.Charge{OrderID: "a", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.TransactionRef)

	res, err = sim.Charge(ctx, domain.Charge{OrderID: "b", Amount: decimal.NewFromInt(101)})
	require.NoError(t, err)
	assert.False(t, res.Approved)

	assert.EqualValues(t, 2, sim.Charges())
	assert.EqualValues(t, 1, sim.Declined())
}

func TestSimulator_ContextCanceled(t *testing.T) {
	sim := NewSimulator(decimal.Zero, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Charge(ctx, domain.Charge{OrderID: "a", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, context.Canceled)
}
