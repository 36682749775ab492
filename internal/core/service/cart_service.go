package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

// CartService aggregates each buyer's working set of items. Mutations of
// one buyer's cart are serialized through the locker.
type CartService struct {
	carts   port.CartRepository
	catalog port.CatalogRepository
	locker  port.Locker
	logger  *zap.Logger
	now     func() time.Time
}

func NewCartService(carts port.CartRepository, catalog port.CatalogRepository, locker port.Locker, logger *zap.Logger) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		carts:   carts,
		catalog: catalog,
		locker:  locker,
		logger:  logger.With(zap.String("component", "cart")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func cartKey(buyerID string) string { return "cart:" + buyerID }

// AddItem puts qty of the item into the buyer's cart, merging with an
// existing entry. Stock is not checked here; it is validated at payment.
func (s *CartService) AddItem(ctx context.Context, buyerID, itemID string, qty decimal.Decimal) (domain.CartEntry, error) {
	if !qty.IsPositive() {
		return domain.CartEntry{}, domain.Reject(domain.ErrInvalidQuantity, domain.EntityCatalogItem, itemID)
	}
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return domain.CartEntry{}, classify(err, domain.EntityCatalogItem, itemID)
	}

	var entry domain.CartEntry
	err = s.withCart(ctx, buyerID, func(cart *domain.Cart) error {
		entry = cart.Add(item, qty, s.now())
		return nil
	})
	return entry, err
}

// UpdateQuantity replaces an entry's quantity; qty <= 0 removes the entry.
func (s *CartService) UpdateQuantity(ctx context.Context, buyerID, entryID string, qty decimal.Decimal) error {
	return s.withCart(ctx, buyerID, func(cart *domain.Cart) error {
		if !cart.Update(entryID, qty) {
			return domain.Reject(domain.ErrNotFound, domain.EntityCart, entryID)
		}
		return nil
	})
}

func (s *CartService) RemoveEntry(ctx context.Context, buyerID, entryID string) error {
	return s.withCart(ctx, buyerID, func(cart *domain.Cart) error {
		if !cart.Remove(entryID) {
			return domain.Reject(domain.ErrNotFound, domain.EntityCart, entryID)
		}
		return nil
	})
}

func (s *CartService) Clear(ctx context.Context, buyerID string) error {
	unlock, err := s.lock(ctx, buyerID)
	if err != nil {
		return err
	}
	defer unlock()
	return classify(s.carts.DeleteCart(ctx, buyerID), domain.EntityCart, buyerID)
}

func (s *CartService) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		return domain.Cart{}, classify(err, domain.EntityCart, buyerID)
	}
	return cart, nil
}

// Total is the sum of quantity times snapshot price over the cart.
func (s *CartService) Total(ctx context.Context, buyerID string) (decimal.Decimal, error) {
	cart, err := s.Get(ctx, buyerID)
	if err != nil {
		return decimal.Zero, err
	}
	return cart.Total(), nil
}

// Checkout hands the buyer's cart to convert while holding the cart lock and
// clears the cart only if convert succeeds. An empty cart fails with
// ErrEmptyCart before convert is called.
func (s *CartService) Checkout(ctx context.Context, buyerID string, convert func(domain.Cart) error) error {
	unlock, err := s.lock(ctx, buyerID)
	if err != nil {
		return err
	}
	defer unlock()

	cart, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		return classify(err, domain.EntityCart, buyerID)
	}
	if cart.IsEmpty() {
		return domain.Reject(domain.ErrEmptyCart, domain.EntityCart, buyerID)
	}
	if err := convert(cart); err != nil {
		return err
	}

	// convert has committed; a failed clear is only logged.
	if err := s.carts.DeleteCart(ctx, buyerID); err != nil {
		s.logger.Error("cart not cleared after checkout", zap.String("buyer_id", buyerID), zap.Error(err))
	}
	return nil
}

func (s *CartService) withCart(ctx context.Context, buyerID string, fn func(*domain.Cart) error) error {
	unlock, err := s.lock(ctx, buyerID)
	if err != nil {
		return err
	}
	defer unlock()

	cart, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		return classify(err, domain.EntityCart, buyerID)
	}
	if err := fn(&cart); err != nil {
		return err
	}
	return classify(s.carts.SaveCart(ctx, cart), domain.EntityCart, buyerID)
}

func (s *CartService) lock(ctx context.Context, buyerID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, cartKey(buyerID))
	if err != nil {
		return nil, domain.RejectWith(domain.ErrStorageUnavailable, domain.EntityCart, buyerID, err)
	}
	return unlock, nil
}
