package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
	"github.com/rl1809/hive-market/internal/port"
)

type CreateItemCommand struct {
	GroupID  string
	Name     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// CatalogService manages producer listings. Only the producer owning a
// listing may change it.
type CatalogService struct {
	items     port.CatalogRepository
	inventory *InventoryService
	bus       *eventbus.Bus[domain.CatalogItem]
	logger    *zap.Logger
	now       func() time.Time
}

func NewCatalogService(items port.CatalogRepository, inventory *InventoryService, bus *eventbus.Bus[domain.CatalogItem], logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		items:     items,
		inventory: inventory,
		bus:       bus,
		logger:    logger.With(zap.String("component", "catalog")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CatalogService) CreateItem(ctx context.Context, producer domain.Account, cmd CreateItemCommand) (domain.CatalogItem, error) {
	p, ok := producer.(domain.Producer)
	if !ok {
		return domain.CatalogItem{}, domain.Reject(domain.ErrNotOwner, domain.EntityAccount, accountID(producer))
	}
	if cmd.Price.IsNegative() || cmd.Quantity.IsNegative() {
		return domain.CatalogItem{}, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, "")
	}

	now := s.now()
	item := domain.CatalogItem{
		ID:         uuid.NewString(),
		ProducerID: p.ID,
		GroupID:    cmd.GroupID,
		Name:       cmd.Name,
		Price:      cmd.Price,
		Quantity:   cmd.Quantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.items.SaveItem(ctx, item); err != nil {
		return domain.CatalogItem{}, classify(err, domain.EntityCatalogItem, item.ID)
	}

	s.logger.Info("listing created", zap.String("item_id", item.ID), zap.String("producer_id", p.ID))
	s.bus.Publish(ctx, domain.Created(domain.EntityCatalogItem, item.ID, item))
	return item, nil
}

// UpdatePrice changes the listing price. Existing cart entries and orders
// keep the price they captured.
func (s *CatalogService) UpdatePrice(ctx context.Context, requester domain.Account, itemID string, price decimal.Decimal) (domain.CatalogItem, error) {
	if price.IsNegative() {
		return domain.CatalogItem{}, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, itemID)
	}
	old, err := s.owned(ctx, requester, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	updated := old
	updated.Price = price
	updated.UpdatedAt = s.now()
	if err := s.items.SaveItem(ctx, updated); err != nil {
		return domain.CatalogItem{}, classify(err, domain.EntityCatalogItem, itemID)
	}
	s.bus.Publish(ctx, domain.Updated(domain.EntityCatalogItem, itemID, old, updated))
	return updated, nil
}

func (s *CatalogService) Restock(ctx context.Context, requester domain.Account, itemID string, qty decimal.Decimal) (domain.CatalogItem, error) {
	if _, err := s.owned(ctx, requester, itemID); err != nil {
		return domain.CatalogItem{}, err
	}
	return s.inventory.Restock(ctx, itemID, qty)
}

func (s *CatalogService) DeleteItem(ctx context.Context, requester domain.Account, itemID string) error {
	item, err := s.owned(ctx, requester, itemID)
	if err != nil {
		return err
	}
	if err := s.items.DeleteItem(ctx, itemID); err != nil {
		return classify(err, domain.EntityCatalogItem, itemID)
	}
	s.bus.Publish(ctx, domain.Deleted(domain.EntityCatalogItem, itemID, item))
	return nil
}

// Get reads the listing with its live stock level.
func (s *CatalogService) Get(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	return s.inventory.Item(ctx, itemID)
}

func (s *CatalogService) List(ctx context.Context, filter port.ItemFilter) ([]domain.CatalogItem, error) {
	items, err := s.items.ListItems(ctx, filter)
	if err != nil {
		return nil, classify(err, domain.EntityCatalogItem, "")
	}
	return items, nil
}

func (s *CatalogService) owned(ctx context.Context, requester domain.Account, itemID string) (domain.CatalogItem, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if !domain.IsProducer(requester, item.ProducerID) {
		return domain.CatalogItem{}, domain.Reject(domain.ErrNotOwner, domain.EntityCatalogItem, itemID)
	}
	return item, nil
}
