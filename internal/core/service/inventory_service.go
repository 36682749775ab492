package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
	"github.com/rl1809/hive-market/internal/metrics"
	"github.com/rl1809/hive-market/internal/port"
)

// InventoryService is the ledger of available quantity per catalog item.
type InventoryService struct {
	stock   port.StockRepository
	bus     *eventbus.Bus[domain.CatalogItem]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewInventoryService(stock port.StockRepository, bus *eventbus.Bus[domain.CatalogItem], logger *zap.Logger, m *metrics.Metrics) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{
		stock:   stock,
		bus:     bus,
		logger:  logger.With(zap.String("component", "inventory")),
		metrics: m,
	}
}

// CheckAvailable reports whether at least qty of the item is in stock. It
// reserves nothing.
func (s *InventoryService) CheckAvailable(ctx context.Context, itemID string, qty decimal.Decimal) (bool, error) {
	if !qty.IsPositive() {
		return false, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, itemID)
	}
	item, err := s.Item(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.Available(qty), nil
}

// Item returns the item with its current stock level.
func (s *InventoryService) Item(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	item, err := s.stock.GetItem(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, classify(err, domain.EntityCatalogItem, itemID)
	}
	return item, nil
}

// Decrement atomically re-checks and subtracts qty, failing with
// ErrInsufficientStock without mutation.
func (s *InventoryService) Decrement(ctx context.Context, itemID string, qty decimal.Decimal) (domain.CatalogItem, error) {
	if !qty.IsPositive() {
		return domain.CatalogItem{}, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, itemID)
	}
	before, after, err := s.stock.DecrementStock(ctx, itemID, qty)
	s.metrics.StockOp("decrement", resultCode(err))
	if err != nil {
		return domain.CatalogItem{}, classify(err, domain.EntityCatalogItem, itemID)
	}

	s.logger.Debug("stock decremented",
		zap.String("item_id", itemID),
		zap.String("quantity", qty.String()),
		zap.String("remaining", after.Quantity.String()),
	)
	s.bus.Publish(ctx, domain.Updated(domain.EntityCatalogItem, itemID, before, after))
	return after, nil
}

// Restock adds qty to the item.
func (s *InventoryService) Restock(ctx context.Context, itemID string, qty decimal.Decimal) (domain.CatalogItem, error) {
	if !qty.IsPositive() {
		return domain.CatalogItem{}, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, itemID)
	}
	before, after, err := s.stock.IncrementStock(ctx, itemID, qty)
	s.metrics.StockOp("restock", resultCode(err))
	if err != nil {
		return domain.CatalogItem{}, classify(err, domain.EntityCatalogItem, itemID)
	}
	s.bus.Publish(ctx, domain.Updated(domain.EntityCatalogItem, itemID, before, after))
	return after, nil
}
