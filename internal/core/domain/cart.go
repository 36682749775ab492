package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartEntry struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"` // price when first added
	AddedAt   time.Time       `json:"added_at"`
}

func (e CartEntry) Subtotal() decimal.Decimal {
	return e.UnitPrice.Mul(e.Quantity)
}

// Cart is a buyer's working set. It holds at most one entry per item.
type Cart struct {
	BuyerID string      `json:"buyer_id"`
	Entries []CartEntry `json:"entries"`
}

// Add merges qty into the existing entry for item, or appends a new entry
// priced at the item's current price.
func (c *Cart) Add(item CatalogItem, qty decimal.Decimal, now time.Time) CartEntry {
	for i := range c.Entries {
		if c.Entries[i].ItemID == item.ID {
			c.Entries[i].Quantity = c.Entries[i].Quantity.Add(qty)
			return c.Entries[i]
		}
	}
	entry := CartEntry{
		ID:        uuid.NewString(),
		BuyerID:   c.BuyerID,
		ItemID:    item.ID,
		Quantity:  qty,
		UnitPrice: item.Price,
		AddedAt:   now,
	}
	c.Entries = append(c.Entries, entry)
	return entry
}

// Update sets the quantity of an entry; a non-positive qty removes it.
// It reports whether the entry exists.
func (c *Cart) Update(entryID string, qty decimal.Decimal) bool {
	for i := range c.Entries {
		if c.Entries[i].ID != entryID {
			continue
		}
		if !qty.IsPositive() {
			c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
			return true
		}
		c.Entries[i].Quantity = qty
		return true
	}
	return false
}

func (c *Cart) Remove(entryID string) bool {
	return c.Update(entryID, decimal.Zero)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Entries) == 0
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.Entries {
		total = total.Add(e.Subtotal())
	}
	return total
}
