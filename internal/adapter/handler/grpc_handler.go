package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
)

// AccountMetadataKey carries the caller's account id on gRPC calls.
const AccountMetadataKey = "x-account-id"

var errSlowWatcher = errors.New("watch stream buffer full, event dropped")

type GRPCHandler struct {
	svc        Services
	orderBus   *eventbus.Bus[domain.Order]
	catalogBus *eventbus.Bus[domain.CatalogItem]
	buffer     int
	logger     *zap.Logger
}

var _ OrderServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(svc Services, orderBus *eventbus.Bus[domain.Order], catalogBus *eventbus.Bus[domain.CatalogItem], buffer int, logger *zap.Logger) *GRPCHandler {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{
		svc:        svc,
		orderBus:   orderBus,
		catalogBus: catalogBus,
		buffer:     buffer,
		logger:     logger.Named("grpc"),
	}
}

func (h *GRPCHandler) Pay(ctx context.Context, req *OrderRequest) (*OrderReply, error) {
	acc, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Orders.PayAs(ctx, req.OrderID, acc); err != nil {
		return nil, toStatus(err)
	}
	return h.reply(ctx, req.OrderID)
}

func (h *GRPCHandler) Cancel(ctx context.Context, req *OrderRequest) (*OrderReply, error) {
	acc, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Orders.Cancel(ctx, req.OrderID, acc); err != nil {
		return nil, toStatus(err)
	}
	return h.reply(ctx, req.OrderID)
}

func (h *GRPCHandler) SetStatus(ctx context.Context, req *SetStatusRequest) (*OrderReply, error) {
	acc, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Orders.SetStatusAs(ctx, req.OrderID, req.Status, acc); err != nil {
		return nil, toStatus(err)
	}
	return h.reply(ctx, req.OrderID)
}

// GetOrder returns the order to its buyer. Other callers get NotFound.
func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*OrderReply, error) {
	acc, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := h.reply(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !domain.IsBuyer(acc, reply.Order.BuyerID) {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	return reply, nil
}

// reply loads the current state of an order the caller was allowed to change.
func (h *GRPCHandler) reply(ctx context.Context, orderID string) (*OrderReply, error) {
	order, err := h.svc.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: order}, nil
}

func (h *GRPCHandler) WatchOrders(req *WatchRequest, stream grpc.ServerStream) error {
	return relay(stream, h.orderBus, h.buffer, h.logger, func(ev domain.OrderEvent) bool {
		return (req.EntityID == "" || ev.EntityID == req.EntityID) &&
			(req.BuyerID == "" || ev.New.BuyerID == req.BuyerID)
	})
}

func (h *GRPCHandler) WatchCatalog(req *WatchRequest, stream grpc.ServerStream) error {
	return relay(stream, h.catalogBus, h.buffer, h.logger, func(ev domain.CatalogEvent) bool {
		return (req.EntityID == "" || ev.EntityID == req.EntityID) &&
			(req.GroupID == "" || ev.New.GroupID == req.GroupID)
	})
}

// relay subscribes for the lifetime of the stream. The bus handler only
// enqueues, so a slow client loses events instead of stalling publishers.
func relay[T any](stream grpc.ServerStream, bus *eventbus.Bus[T], buffer int, logger *zap.Logger, match func(domain.ChangeEvent[T]) bool) error {
	events := make(chan domain.ChangeEvent[T], buffer)
	sub := bus.SubscribeFunc(func(_ context.Context, ev domain.ChangeEvent[T]) error {
		if !match(ev) {
			return nil
		}
		select {
		case events <- ev:
			return nil
		default:
			return errSlowWatcher
		}
	})
	defer sub.Unsubscribe()

	logger = logger.With(zap.String("bus", bus.Name()), zap.String("subscription_id", sub.ID()))
	logger.Debug("watch started")
	defer logger.Debug("watch ended")

	// the header tells the client the subscription is live
	if err := stream.SendHeader(metadata.Pairs("subscription-id", sub.ID())); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case ev := <-events:
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		}
	}
}

func (h *GRPCHandler) caller(ctx context.Context) (domain.Account, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(AccountMetadataKey)
	if len(ids) == 0 || ids[0] == "" {
		return nil, status.Error(codes.Unauthenticated, "missing "+AccountMetadataKey)
	}
	acc, err := h.svc.Accounts.Get(ctx, ids[0])
	if errors.Is(err, domain.ErrNotFound) {
		return nil, status.Error(codes.Unauthenticated, "unknown account")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return acc, nil
}

// CodeFor maps an error kind to a gRPC code.
func CodeFor(err error) codes.Code {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindConflict:
		if errors.Is(err, domain.ErrNotOwner) {
			return codes.PermissionDenied
		}
		return codes.FailedPrecondition
	case domain.KindNotFound:
		return codes.NotFound
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return codes.DeadlineExceeded
		}
		return codes.Unavailable
	}
}

func toStatus(err error) error {
	return status.Error(CodeFor(err), err.Error())
}
