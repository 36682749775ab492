package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

type itemCell struct {
	mu   sync.Mutex
	item domain.CatalogItem
}

// MemoryAdapter keeps every repository in process memory. Stock changes
// are atomic per item.
type MemoryAdapter struct {
	itemsMu sync.RWMutex
	items   map[string]*itemCell

	cartsMu sync.Mutex
	carts   map[string]domain.Cart

	ordersMu sync.RWMutex
	orders   map[string]domain.Order

	accountsMu sync.RWMutex
	accounts   map[string]domain.Account
}

var (
	_ port.CatalogRepository = (*MemoryAdapter)(nil)
	_ port.StockRepository   = (*MemoryAdapter)(nil)
	_ port.CartRepository    = (*MemoryAdapter)(nil)
	_ port.OrderRepository   = (*MemoryAdapter)(nil)
	_ port.AccountRepository = (*MemoryAdapter)(nil)
)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:    make(map[string]*itemCell),
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		accounts: make(map[string]domain.Account),
	}
}

func (m *MemoryAdapter) cell(itemID string) (*itemCell, bool) {
	m.itemsMu.RLock()
	defer m.itemsMu.RUnlock()
	c, ok := m.items[itemID]
	return c, ok
}

func (m *MemoryAdapter) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	c, ok := m.cell(itemID)
	if !ok {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item, nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context, filter port.ItemFilter) ([]domain.CatalogItem, error) {
	m.itemsMu.RLock()
	cells := make([]*itemCell, 0, len(m.items))
	for _, c := range m.items {
		cells = append(cells, c)
	}
	m.itemsMu.RUnlock()

	var out []domain.CatalogItem
	for _, c := range cells {
		c.mu.Lock()
		item := c.item
		c.mu.Unlock()
		if matchItem(item, filter) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func matchItem(item domain.CatalogItem, f port.ItemFilter) bool {
	if f.GroupID != "" && item.GroupID != f.GroupID {
		return false
	}
	if f.ProducerID != "" && item.ProducerID != f.ProducerID {
		return false
	}
	if f.MinPrice.Valid && item.Price.LessThan(f.MinPrice.Decimal) {
		return false
	}
	if f.MaxPrice.Valid && item.Price.GreaterThan(f.MaxPrice.Decimal) {
		return false
	}
	return true
}

// SaveItem inserts a new item or replaces the listing fields of an
// existing one, leaving its stock untouched.
func (m *MemoryAdapter) SaveItem(ctx context.Context, item domain.CatalogItem) error {
	m.itemsMu.Lock()
	c, ok := m.items[item.ID]
	if !ok {
		m.items[item.ID] = &itemCell{item: item}
		m.itemsMu.Unlock()
		return nil
	}
	m.itemsMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.item.ProducerID = item.ProducerID
	c.item.GroupID = item.GroupID
	c.item.Name = item.Name
	c.item.Price = item.Price
	c.item.UpdatedAt = item.UpdatedAt
	return nil
}

func (m *MemoryAdapter) DeleteItem(ctx context.Context, itemID string) error {
	m.itemsMu.Lock()
	defer m.itemsMu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, itemID)
	return nil
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return m.adjustStock(itemID, quantity.Neg())
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return m.adjustStock(itemID, quantity)
}

func (m *MemoryAdapter) adjustStock(itemID string, delta decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	c, ok := m.cell(itemID)
	if !ok {
		return domain.CatalogItem{}, domain.CatalogItem{}, domain.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.item
	next := before.Quantity.Add(delta)
	if next.IsNegative() {
		return domain.CatalogItem{}, domain.CatalogItem{}, domain.ErrInsufficientStock
	}
	c.item.Quantity = next
	c.item.Version++
	c.item.UpdatedAt = time.Now().UTC()
	return before, c.item, nil
}

func (m *MemoryAdapter) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	m.cartsMu.Lock()
	defer m.cartsMu.Unlock()
	cart, ok := m.carts[buyerID]
	if !ok {
		return domain.Cart{BuyerID: buyerID}, nil
	}
	cart.Entries = append([]domain.CartEntry(nil), cart.Entries...)
	return cart, nil
}

func (m *MemoryAdapter) SaveCart(ctx context.Context, cart domain.Cart) error {
	m.cartsMu.Lock()
	defer m.cartsMu.Unlock()
	if cart.IsEmpty() {
		delete(m.carts, cart.BuyerID)
		return nil
	}
	cart.Entries = append([]domain.CartEntry(nil), cart.Entries...)
	m.carts[cart.BuyerID] = cart
	return nil
}

func (m *MemoryAdapter) DeleteCart(ctx context.Context, buyerID string) error {
	m.cartsMu.Lock()
	defer m.cartsMu.Unlock()
	delete(m.carts, buyerID)
	return nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return domain.ErrStatusConflict
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	m.ordersMu.RLock()
	defer m.ordersMu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	m.ordersMu.RLock()
	var out []domain.Order
	for _, o := range m.orders {
		if matchOrder(o, filter) {
			out = append(out, o.Clone())
		}
	}
	m.ordersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func matchOrder(o domain.Order, f port.OrderFilter) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !o.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func (m *MemoryAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if order.Status != from {
		return domain.ErrStatusConflict
	}
	m.orders[orderID] = order.WithStatus(to, at)
	return nil
}

func (m *MemoryAdapter) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	m.accountsMu.RLock()
	defer m.accountsMu.RUnlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return acc, nil
}

func (m *MemoryAdapter) SaveAccount(ctx context.Context, acc domain.Account) error {
	m.accountsMu.Lock()
	defer m.accountsMu.Unlock()
	m.accounts[acc.AccountID()] = acc
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	limit = port.PageLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
