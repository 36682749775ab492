package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/hive-market/internal/adapter/handler"
	"github.com/rl1809/hive-market/internal/adapter/payment"
	"github.com/rl1809/hive-market/internal/config"
	"github.com/rl1809/hive-market/internal/core/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t   *testing.T
	app *App
	h   http.Handler
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return &harness{t: t, app: a, h: a.HTTPHandler()}
}

func (h *harness) do(method, path, account string, body any, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(handler.DefaultAccountHeader, account)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (h *harness) register(role domain.Role, name string) string {
	h.t.Helper()
	var resp struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	code := h.do(http.MethodPost, "/api/v1/accounts", "", gin.H{"role": role, "name": name}, &resp)
	require.Equal(h.t, http.StatusCreated, code)
	return resp.Account.ID
}

func (h *harness) listItem(producer, name, price, qty string) domain.CatalogItem {
	h.t.Helper()
	var item domain.CatalogItem
	code := h.do(http.MethodPost, "/api/v1/items", producer, gin.H{
		"group_id": "hive-1", "name": name, "price": price, "quantity": qty,
	}, &item)
	require.Equal(h.t, http.StatusCreated, code)
	return item
}

func (h *harness) addToCart(buyer, itemID, qty string) {
	h.t.Helper()
	code := h.do(http.MethodPost, "/api/v1/cart/entries", buyer, gin.H{"item_id": itemID, "quantity": qty}, nil)
	require.Equal(h.t, http.StatusCreated, code)
}

func (h *harness) stock(itemID string) decimal.Decimal {
	h.t.Helper()
	var item domain.CatalogItem
	require.Equal(h.t, http.StatusOK, h.do(http.MethodGet, "/api/v1/items/"+itemID, "", nil, &item))
	return item.Quantity
}

// basket places 2 x A at 5 and 1 x B at 3 in the buyer's cart.
func (h *harness) basket(producer, buyer string) (domain.CatalogItem, domain.CatalogItem) {
	a := h.listItem(producer, "Acacia", "5", "10")
	b := h.listItem(producer, "Buckwheat", "3", "10")
	h.addToCart(buyer, a.ID, "2")
	h.addToCart(buyer, b.ID, "1")
	return a, b
}

func TestMarketplaceFlow(t *testing.T) {
	h := newHarness(t)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	a, b := h.basket(producer, buyer)

	var cart struct {
		Total   decimal.Decimal    `json:"total"`
		Entries []domain.CartEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/cart", buyer, nil, &cart))
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(13)))
	assert.Len(t, cart.Entries, 2)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(13)))

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/cart", buyer, nil, &cart))
	assert.Empty(t, cart.Entries)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", buyer, nil, &order))
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(8)))
	assert.True(t, h.stock(b.ID).Equal(decimal.NewFromInt(9)))

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", buyer, nil, &order))
	sim := h.app.Payments.(*payment.Simulator)
	assert.EqualValues(t, 1, sim.Charges())
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(8)))

	var orders []domain.Order
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/orders?status=PAID", buyer, nil, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

func TestConcurrentPayChargesOnce(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Payment.SimulatorLatency = 20 * time.Millisecond })
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	a, _ := h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", nil)
			req.Header.Set(handler.DefaultAccountHeader, buyer)
			rec := httptest.NewRecorder()
			h.h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.app.Payments.(*payment.Simulator).Charges())
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(8)))
}

func TestCheckoutRejections(t *testing.T) {
	h := newHarness(t)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")

	var errResp handler.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &errResp))
	assert.Equal(t, "empty_cart", errResp.Error)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/cart", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/cart", "ghost", nil, nil))
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/v1/cart", producer, nil, nil))
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/items", buyer,
		gin.H{"group_id": "g", "name": "n", "price": "1", "quantity": "1"}, nil))

	item := h.listItem(producer, "Acacia", "5", "10")
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/cart/entries", buyer,
		gin.H{"item_id": item.ID, "quantity": "0"}, nil))
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/v1/cart/entries", buyer,
		gin.H{"item_id": "missing", "quantity": "1"}, nil))
}

func TestCancelOverHTTP(t *testing.T) {
	h := newHarness(t)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	other := h.register(domain.RoleBuyer, "Cy")
	h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", other, nil, nil))
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", buyer, nil, &order))
	assert.Equal(t, domain.OrderStatusCanceled, order.Status)

	var errResp handler.ErrorResponse
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", buyer, nil, &errResp))
	assert.Equal(t, "canceled", errResp.Error)
	assert.EqualValues(t, 0, h.app.Payments.(*payment.Simulator).Charges())

	// another buyer cannot see the order
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/orders/"+order.ID, other, nil, nil))
}

func TestOrderAuthorizationOverHTTP(t *testing.T) {
	h := newHarness(t)
	producer := h.register(domain.RoleProducer, "Bea")
	rival := h.register(domain.RoleProducer, "Rex")
	buyer := h.register(domain.RoleBuyer, "Ada")
	stranger := h.register(domain.RoleBuyer, "Cy")
	a, _ := h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))
	pay := "/api/v1/orders/" + order.ID + "/pay"
	setStatus := "/api/v1/orders/" + order.ID + "/status"

	// another buyer can neither pay nor read the order back
	var errResp handler.ErrorResponse
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, pay, stranger, nil, &errResp))
	assert.Equal(t, "not_owner", errResp.Error)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, pay, producer, nil, nil))
	assert.EqualValues(t, 0, h.app.Payments.(*payment.Simulator).Charges())
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(10)))

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, pay, buyer, nil, &order))
	assert.Equal(t, domain.OrderStatusPaid, order.Status)

	delivered := gin.H{"status": domain.OrderStatusDelivered}
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, setStatus, buyer, delivered, nil))
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, setStatus, rival, delivered, nil))

	var got domain.Order
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/orders/"+order.ID, buyer, nil, &got))
	assert.Equal(t, domain.OrderStatusPaid, got.Status)

	require.Equal(t, http.StatusOK, h.do(http.MethodPut, setStatus, producer, delivered, &got))
	assert.Equal(t, domain.OrderStatusDelivered, got.Status)
}

func TestDeclinedPaymentOverHTTP(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Payment.SimulatorLimit = "10" })
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	a, _ := h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))

	var errResp handler.ErrorResponse
	assert.Equal(t, http.StatusBadGateway, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", buyer, nil, &errResp))
	assert.Equal(t, "gateway_failure", errResp.Error)
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(10)))
}

func dialBuf(t *testing.T, a *App) *handler.OrderServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	a.RegisterGRPC(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return handler.NewOrderServiceClient(conn)
}

func TestGRPCWatchAndTransitions(t *testing.T) {
	h := newHarness(t)
	client := dialBuf(t, h.app)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	h.basket(producer, buyer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watch, err := client.WatchOrders(ctx, &handler.WatchRequest{BuyerID: buyer})
	require.NoError(t, err)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))

	ev, err := watch.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.EventCreated, ev.Kind)
	assert.Equal(t, order.ID, ev.EntityID)

	buyerCtx := metadata.AppendToOutgoingContext(ctx, handler.AccountMetadataKey, buyer)
	reply, err := client.Pay(buyerCtx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, reply.Order.Status)

	ev, err = watch.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.EventUpdated, ev.Kind)
	require.NotNil(t, ev.Old)
	assert.Equal(t, domain.OrderStatusPending, ev.Old.Status)
	assert.Equal(t, domain.OrderStatusPaid, ev.New.Status)

	_, err = client.SetStatus(ctx, order.ID, domain.OrderStatusDelivered)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, handler.AccountMetadataKey, producer)
	reply, err = client.SetStatus(authed, order.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, reply.Order.Status)

	_, err = client.Cancel(buyerCtx, order.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.GetOrder(buyerCtx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCOrderAuthorization(t *testing.T) {
	h := newHarness(t)
	client := dialBuf(t, h.app)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	stranger := h.register(domain.RoleBuyer, "Cy")
	h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	as := func(id string) context.Context {
		return metadata.AppendToOutgoingContext(ctx, handler.AccountMetadataKey, id)
	}

	_, err := client.Pay(ctx, order.ID)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = client.Pay(as(stranger), order.ID)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.EqualValues(t, 0, h.app.Payments.(*payment.Simulator).Charges())

	_, err = client.Pay(as(buyer), order.ID)
	require.NoError(t, err)

	_, err = client.SetStatus(as(buyer), order.ID, domain.OrderStatusDelivered)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	reply, err := client.GetOrder(as(buyer), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, reply.Order.Status)

	_, err = client.GetOrder(as(stranger), order.ID)
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = client.GetOrder(ctx, order.ID)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	reply, err = client.SetStatus(as(producer), order.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, reply.Order.Status)
}

func TestGRPCWatchCatalog(t *testing.T) {
	h := newHarness(t)
	client := dialBuf(t, h.app)
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	watch, err := client.WatchCatalog(ctx, &handler.WatchRequest{GroupID: "hive-1"})
	require.NoError(t, err)

	item := h.listItem(producer, "Acacia", "5", "3")
	ev, err := watch.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.EventCreated, ev.Kind)
	assert.Equal(t, item.ID, ev.EntityID)

	h.addToCart(buyer, item.ID, "1")
	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))
	_, err = client.Pay(metadata.AppendToOutgoingContext(ctx, handler.AccountMetadataKey, buyer), order.ID)
	require.NoError(t, err)

	ev, err = watch.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.EventUpdated, ev.Kind)
	assert.True(t, ev.New.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, ev.Old.Quantity.Equal(decimal.NewFromInt(3)))
}

func TestSQLiteBackend(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Storage.Backend = "sqlite"
		c.Storage.DSN = ":memory:"
	})
	producer := h.register(domain.RoleProducer, "Bea")
	buyer := h.register(domain.RoleBuyer, "Ada")
	a, _ := h.basket(producer, buyer)

	var order domain.Order
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/v1/orders", buyer, nil, &order))
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/pay", buyer, nil, &order))
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(13)))
	assert.True(t, h.stock(a.ID).Equal(decimal.NewFromInt(8)))
}
