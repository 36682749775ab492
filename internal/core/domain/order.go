package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPaid:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCanceled, OrderStatusDelivered:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Staying in the same
// state is allowed and treated as a no-op by callers.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OrderLine struct {
	OrderID   string          `json:"order_id"`
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// Order is immutable apart from Status and the derived Total.
type Order struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	Status    OrderStatus     `json:"status"`
	Lines     []OrderLine     `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewOrderFromCart snapshots every cart entry into a PENDING order.
func NewOrderFromCart(id string, cart Cart, now time.Time) Order {
	lines := make([]OrderLine, 0, len(cart.Entries))
	for _, e := range cart.Entries {
		lines = append(lines, OrderLine{
			OrderID:   id,
			ItemID:    e.ItemID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice,
		})
	}
	o := Order{
		ID:        id,
		BuyerID:   cart.BuyerID,
		Status:    OrderStatusPending,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Total = o.ComputeTotal()
	return o
}

func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// WithStatus returns a copy of o in status next. Lines are shared; callers
// must not mutate them.
func (o Order) WithStatus(next OrderStatus, now time.Time) Order {
	o.Status = next
	o.UpdatedAt = now
	o.Total = o.ComputeTotal()
	return o
}

// Clone deep-copies the line slice.
func (o Order) Clone() Order {
	o.Lines = append([]OrderLine(nil), o.Lines...)
	return o
}
