package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/hive-market/internal/adapter/storage"
	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
	"github.com/rl1809/hive-market/internal/port"
)

type fakeGateway struct {
	mu      sync.Mutex
	charges []domain.Charge
	decline bool
	err     error
	delay   time.Duration
}

func (g *fakeGateway) Charge(ctx context.Context, c domain.Charge) (domain.ChargeResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, c)
	if g.err != nil {
		return domain.ChargeResult{}, g.err
	}
	if g.decline {
		return domain.ChargeResult{Reason: "card declined"}, nil
	}
	return domain.ChargeResult{Approved: true, TransactionRef: "tx-" + c.OrderID}, nil
}

func (g *fakeGateway) setDecline(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decline = v
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// failingOrders rejects every CreateOrder.
type failingOrders struct {
	port.OrderRepository
	err error
}

func (f failingOrders) CreateOrder(context.Context, domain.Order) error {
	return f.err
}

type recorder[T any] struct {
	mu     sync.Mutex
	events []domain.ChangeEvent[T]
}

func record[T any](bus *eventbus.Bus[T]) *recorder[T] {
	r := &recorder[T]{}
	bus.SubscribeFunc(func(_ context.Context, ev domain.ChangeEvent[T]) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
		return nil
	})
	return r
}

func (r *recorder[T]) all() []domain.ChangeEvent[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChangeEvent[T](nil), r.events...)
}

type fixture struct {
	store      *storage.MemoryAdapter
	locker     *storage.MemoryLocker
	orderBus   *eventbus.Bus[domain.Order]
	catalogBus *eventbus.Bus[domain.CatalogItem]
	gateway    *fakeGateway

	inventory *InventoryService
	carts     *CartService
	catalog   *CatalogService
	orders    *OrderService

	producer domain.Producer
	buyer    domain.Buyer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      storage.NewMemoryAdapter(),
		locker:     storage.NewMemoryLocker(),
		orderBus:   eventbus.New[domain.Order]("orders"),
		catalogBus: eventbus.New[domain.CatalogItem]("catalog"),
		gateway:    &fakeGateway{},
		producer:   domain.Producer{ID: "producer-1", Name: "Bea", ApiaryName: "Linden Row"},
		buyer:      domain.Buyer{ID: "buyer-1", Name: "Ada", ShippingAddress: "7 Wax Lane"},
	}
	f.inventory = NewInventoryService(f.store, f.catalogBus, nil, nil)
	f.carts = NewCartService(f.store, f.store, f.locker, nil)
	f.catalog = NewCatalogService(f.store, f.inventory, f.catalogBus, nil)
	f.orders = f.orderService(f.store)
	return f
}

func (f *fixture) orderService(repo port.OrderRepository) *OrderService {
	return NewOrderService(OrderServiceConfig{
		Orders:    repo,
		Carts:     f.carts,
		Inventory: f.inventory,
		Payments:  f.gateway,
		Locker:    f.locker,
		Bus:       f.orderBus,
		Currency:  "EUR",
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) listItem(t *testing.T, name, price, qty string) domain.CatalogItem {
	t.Helper()
	item, err := f.catalog.CreateItem(context.Background(), f.producer, CreateItemCommand{
		GroupID:  "hive-1",
		Name:     name,
		Price:    dec(price),
		Quantity: dec(qty),
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) stockOf(t *testing.T, itemID string) decimal.Decimal {
	t.Helper()
	item, err := f.catalog.Get(context.Background(), itemID)
	require.NoError(t, err)
	return item.Quantity
}

// basketOrder lists A (5.00, stock 10) and B (3.00, stock 10), puts 2 A and
// 1 B into the buyer's cart and checks out.
func (f *fixture) basketOrder(t *testing.T) (domain.Order, domain.CatalogItem, domain.CatalogItem) {
	t.Helper()
	ctx := context.Background()
	a := f.listItem(t, "Acacia", "5", "10")
	b := f.listItem(t, "Buckwheat", "3", "10")
	_, err := f.carts.AddItem(ctx, f.buyer.ID, a.ID, dec("2"))
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, f.buyer.ID, b.ID, dec("1"))
	require.NoError(t, err)

	order, err := f.orders.CreateFromCart(ctx, f.buyer.ID)
	require.NoError(t, err)
	return order, a, b
}
