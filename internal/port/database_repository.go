package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
)

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	GroupID    string
	ProducerID string
	MinPrice   decimal.NullDecimal
	MaxPrice   decimal.NullDecimal
	Limit      int
	Offset     int
}

// OrderFilter narrows ListOrders. Zero values mean "any"; From is
// inclusive and To exclusive.
type OrderFilter struct {
	BuyerID string
	Status  domain.OrderStatus
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

type CatalogRepository interface {
	// GetItem returns domain.ErrNotFound if the item does not exist
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)

	ListItems(ctx context.Context, filter ItemFilter) ([]domain.CatalogItem, error)

	// SaveItem inserts or replaces listing fields. Stock is only changed
	// through StockRepository once the item exists.
	SaveItem(ctx context.Context, item domain.CatalogItem) error

	DeleteItem(ctx context.Context, itemID string) error
}

type CartRepository interface {
	// GetCart returns an empty cart for buyers without entries
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)

	SaveCart(ctx context.Context, cart domain.Cart) error

	DeleteCart(ctx context.Context, buyerID string) error
}

type OrderRepository interface {
	// CreateOrder durably persists a new order with its lines
	CreateOrder(ctx context.Context, order domain.Order) error

	GetOrder(ctx context.Context, orderID string) (domain.Order, error)

	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)

	// UpdateOrderStatus moves the order from -> to and fails with
	// domain.ErrStatusConflict if the stored status is no longer from
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) error
}

type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
}

type AccountRepository interface {
	AccountDirectory
	SaveAccount(ctx context.Context, acc domain.Account) error
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// PageLimit clamps a requested page size.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
