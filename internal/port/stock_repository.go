package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
)

type StockRepository interface {
	// GetItem returns the current stock view of an item
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)

	// DecrementStock atomically checks and subtracts quantity. It returns the
	// item before and after, or domain.ErrInsufficientStock without mutating.
	DecrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (before, after domain.CatalogItem, err error)

	// IncrementStock adds quantity (restock)
	IncrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (before, after domain.CatalogItem, err error)
}
