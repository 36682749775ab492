package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is a listing backed by finite stock.
type CatalogItem struct {
	ID         string          `json:"id"`
	ProducerID string          `json:"producer_id"`
	GroupID    string          `json:"group_id"` // owning hive/apiary
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Version    int64           `json:"version"` // optimistic locking
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (i CatalogItem) Available(qty decimal.Decimal) bool {
	return i.Quantity.GreaterThanOrEqual(qty)
}
