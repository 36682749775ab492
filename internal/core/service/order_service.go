package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
	"github.com/rl1809/hive-market/internal/metrics"
	"github.com/rl1809/hive-market/internal/port"
)

const tracerName = "github.com/rl1809/hive-market/internal/core/service"

type OrderServiceConfig struct {
	Orders    port.OrderRepository
	Carts     *CartService
	Inventory *InventoryService
	Payments  port.PaymentGateway
	Locker    port.Locker
	Bus       *eventbus.Bus[domain.Order]
	Currency  string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// OrderService runs the order lifecycle: checkout, payment and status
// transitions. All mutations of one order are serialized through the
// locker, and storage writes are compare-and-set on the previous status.
type OrderService struct {
	orders    port.OrderRepository
	carts     *CartService
	inventory *InventoryService
	payments  port.PaymentGateway
	locker    port.Locker
	bus       *eventbus.Bus[domain.Order]
	currency  string
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	payGroup  singleflight.Group
	now       func() time.Time
}

func NewOrderService(cfg OrderServiceConfig) *OrderService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &OrderService{
		orders:    cfg.Orders,
		carts:     cfg.Carts,
		inventory: cfg.Inventory,
		payments:  cfg.Payments,
		locker:    cfg.Locker,
		bus:       cfg.Bus,
		currency:  currency,
		logger:    logger.With(zap.String("component", "orders")),
		metrics:   cfg.Metrics,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func orderKey(orderID string) string { return "order:" + orderID }

// CreateFromCart converts the buyer's cart into a PENDING order and clears
// the cart. If the order cannot be stored the cart is left untouched.
func (s *OrderService) CreateFromCart(ctx context.Context, buyerID string) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.create_from_cart", trace.WithAttributes(attribute.String("buyer.id", buyerID)))
	defer func() { s.finish(span, "create", err) }()

	err = s.carts.Checkout(ctx, buyerID, func(cart domain.Cart) error {
		o := domain.NewOrderFromCart(uuid.NewString(), cart, s.now())
		// held until CREATED is out so no later change of o overtakes it
		unlock, err := s.lock(ctx, o.ID)
		if err != nil {
			return err
		}
		defer unlock()

		if err := s.orders.CreateOrder(ctx, o); err != nil {
			return classify(err, domain.EntityOrder, o.ID)
		}
		order = o
		s.logger.Info("order created",
			zap.String("order_id", o.ID),
			zap.String("buyer_id", buyerID),
			zap.String("total", o.Total.String()),
			zap.Int("lines", len(o.Lines)),
		)
		s.bus.Publish(ctx, domain.Created(domain.EntityOrder, o.ID, o.Clone()))
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

// Pay charges the order total once and marks the order PAID, then
// decrements stock for every line. Paying a PAID order succeeds without
// charging again. Concurrent calls for one order share a single attempt.
func (s *OrderService) Pay(ctx context.Context, orderID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "order.pay", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { s.finish(span, "pay", err) }()

	_, err, shared := s.payGroup.Do(orderID, func() (any, error) {
		return nil, s.pay(ctx, orderID)
	})
	span.SetAttributes(attribute.Bool("pay.shared", shared))
	return err
}

func (s *OrderService) pay(ctx context.Context, orderID string) error {
	paid, err := s.markPaid(ctx, orderID)
	if err != nil || paid == nil {
		return err
	}
	return s.fulfil(ctx, *paid)
}

// markPaid charges and flips PENDING to PAID under the order lock, and
// publishes the change before releasing it so events follow commit order.
// A nil order means it was already paid.
func (s *OrderService) markPaid(ctx context.Context, orderID string) (*domain.Order, error) {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case domain.OrderStatusPaid:
		return nil, nil
	case domain.OrderStatusCanceled:
		return nil, domain.Reject(domain.ErrCanceled, domain.EntityOrder, orderID)
	case domain.OrderStatusDelivered:
		return nil, domain.Reject(domain.ErrAlreadyPaid, domain.EntityOrder, orderID)
	}

	result, err := s.charge(ctx, order)
	if err != nil {
		return nil, err
	}

	paid := order.WithStatus(domain.OrderStatusPaid, s.now())
	if err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusPaid, paid.UpdatedAt); err != nil {
		s.logger.Error("charged order could not be marked paid",
			zap.String("order_id", orderID),
			zap.String("transaction_ref", result.TransactionRef),
			zap.Error(err),
		)
		return nil, classify(err, domain.EntityOrder, orderID)
	}

	s.logger.Info("order paid",
		zap.String("order_id", orderID),
		zap.String("transaction_ref", result.TransactionRef),
		zap.String("total", order.Total.String()),
	)
	s.bus.Publish(ctx, domain.Updated(domain.EntityOrder, orderID, order.Clone(), paid.Clone()))
	return &paid, nil
}

func (s *OrderService) charge(ctx context.Context, order domain.Order) (domain.ChargeResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.charge")
	defer span.End()

	start := time.Now()
	result, err := s.payments.Charge(ctx, domain.Charge{
		OrderID:  order.ID,
		Amount:   order.Total,
		Currency: s.currency,
	})
	s.metrics.Charge(err == nil && result.Approved, time.Since(start))

	if err != nil {
		s.logger.Warn("payment gateway error", zap.String("order_id", order.ID), zap.Error(err))
		return result, domain.RejectWith(domain.ErrGatewayFailure, domain.EntityOrder, order.ID, err)
	}
	if !result.Approved {
		s.logger.Info("payment declined", zap.String("order_id", order.ID), zap.String("reason", result.Reason))
		return result, domain.RejectWith(domain.ErrGatewayFailure, domain.EntityOrder, order.ID,
			fmt.Errorf("declined: %s", result.Reason))
	}
	return result, nil
}

// fulfil decrements stock for every line of a paid order. Every line is
// attempted; shortfalls are reported together and the order stays PAID.
func (s *OrderService) fulfil(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, line := range order.Lines {
		if _, err := s.inventory.Decrement(ctx, line.ItemID, line.Quantity); err != nil {
			s.logger.Error("stock shortfall on paid order",
				zap.String("order_id", order.ID),
				zap.String("item_id", line.ItemID),
				zap.String("quantity", line.Quantity.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("order %s paid with stock shortfall: %w", order.ID, errors.Join(errs...))
	}
	return nil
}

// Cancel cancels a PENDING order on behalf of its buyer.
func (s *OrderService) Cancel(ctx context.Context, orderID string, requester domain.Account) (err error) {
	ctx, span := s.tracer.Start(ctx, "order.cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { s.finish(span, "cancel", err) }()

	return s.transition(ctx, orderID, domain.OrderStatusCanceled, func(o domain.Order) error {
		if !domain.IsBuyer(requester, o.BuyerID) {
			return domain.Reject(domain.ErrNotOwner, domain.EntityOrder, orderID)
		}
		if o.Status != domain.OrderStatusPending {
			return domain.Reject(domain.ErrNotCancelable, domain.EntityOrder, orderID)
		}
		return nil
	})
}

// SetStatus applies a producer-side transition such as PAID to DELIVERED.
// Moving to PAID is only possible through Pay.
func (s *OrderService) SetStatus(ctx context.Context, orderID string, next domain.OrderStatus) (err error) {
	ctx, span := s.tracer.Start(ctx, "order.set_status", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(next)),
	))
	defer func() { s.finish(span, "set_status", err) }()

	if !next.Valid() {
		return domain.Reject(domain.ErrIllegalTransition, domain.EntityOrder, orderID)
	}
	return s.transition(ctx, orderID, next, func(o domain.Order) error {
		if o.Status == next {
			return nil
		}
		if next == domain.OrderStatusPaid || !o.Status.CanTransition(next) {
			return domain.Reject(domain.ErrIllegalTransition, domain.EntityOrder, orderID)
		}
		return nil
	})
}

// PayAs is Pay on behalf of requester, who must be the order's buyer.
func (s *OrderService) PayAs(ctx context.Context, orderID string, requester domain.Account) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if !domain.IsBuyer(requester, order.BuyerID) {
		return domain.Reject(domain.ErrNotOwner, domain.EntityOrder, orderID)
	}
	return s.Pay(ctx, orderID)
}

// SetStatusAs is SetStatus on behalf of requester, who must be a producer
// selling at least one line of the order.
func (s *OrderService) SetStatusAs(ctx context.Context, orderID string, next domain.OrderStatus, requester domain.Account) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	ok, err := s.sells(ctx, order, requester)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Reject(domain.ErrNotOwner, domain.EntityOrder, orderID)
	}
	return s.SetStatus(ctx, orderID, next)
}

// sells reports whether acc is the producer of any item on the order.
// Lines whose listing has been deleted are skipped.
func (s *OrderService) sells(ctx context.Context, order domain.Order, acc domain.Account) (bool, error) {
	producer, ok := acc.(domain.Producer)
	if !ok {
		return false, nil
	}
	for _, line := range order.Lines {
		item, err := s.inventory.Item(ctx, line.ItemID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if item.ProducerID == producer.ID {
			return true, nil
		}
	}
	return false, nil
}

// transition moves the order to next after check approves the current
// state. Same-state transitions succeed without writing or publishing. The
// event is published while the order lock is held.
func (s *OrderService) transition(ctx context.Context, orderID string, next domain.OrderStatus, check func(domain.Order) error) error {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if err := check(order); err != nil {
		return err
	}
	if order.Status == next {
		return nil
	}

	updated := order.WithStatus(next, s.now())
	if err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, next, updated.UpdatedAt); err != nil {
		return classify(err, domain.EntityOrder, orderID)
	}

	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)),
	)
	s.bus.Publish(ctx, domain.Updated(domain.EntityOrder, orderID, order.Clone(), updated.Clone()))
	return nil
}

func (s *OrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.load(ctx, orderID)
}

func (s *OrderService) List(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, classify(err, domain.EntityOrder, "")
	}
	return orders, nil
}

func (s *OrderService) load(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, classify(err, domain.EntityOrder, orderID)
	}
	return order, nil
}

func (s *OrderService) lock(ctx context.Context, orderID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, orderKey(orderID))
	if err != nil {
		return nil, domain.RejectWith(domain.ErrStorageUnavailable, domain.EntityOrder, orderID, err)
	}
	return unlock, nil
}

func (s *OrderService) finish(span trace.Span, op string, err error) {
	s.metrics.OrderOp(op, resultCode(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
