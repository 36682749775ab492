package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/hive-market/internal/core/domain"
)

// Messages travel as JSON; clients select the codec with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceName = "hivemarket.v1.OrderService"

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type SetStatusRequest struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

type OrderReply struct {
	Order domain.Order `json:"order"`
}

// WatchRequest narrows a watch stream. Empty fields match everything.
type WatchRequest struct {
	EntityID string `json:"entity_id,omitempty"`
	BuyerID  string `json:"buyer_id,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
}

type OrderServiceServer interface {
	Pay(ctx context.Context, req *OrderRequest) (*OrderReply, error)
	Cancel(ctx context.Context, req *OrderRequest) (*OrderReply, error)
	SetStatus(ctx context.Context, req *SetStatusRequest) (*OrderReply, error)
	GetOrder(ctx context.Context, req *OrderRequest) (*OrderReply, error)
	WatchOrders(req *WatchRequest, stream grpc.ServerStream) error
	WatchCatalog(req *WatchRequest, stream grpc.ServerStream) error
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(OrderServiceServer, context.Context, *Req) (*OrderReply, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*Req))
			})
		},
	}
}

func watchHandler(method string, call func(OrderServiceServer, *WatchRequest, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: method,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(WatchRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(OrderServiceServer), in, stream)
		},
		ServerStreams: true,
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Pay", OrderServiceServer.Pay),
		unaryHandler("Cancel", OrderServiceServer.Cancel),
		unaryHandler("SetStatus", OrderServiceServer.SetStatus),
		unaryHandler("GetOrder", OrderServiceServer.GetOrder),
	},
	Streams: []grpc.StreamDesc{
		watchHandler("WatchOrders", OrderServiceServer.WatchOrders),
		watchHandler("WatchCatalog", OrderServiceServer.WatchCatalog),
	},
}

// OrderServiceClient calls the service over an established connection.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) Pay(ctx context.Context, orderID string, opts ...grpc.CallOption) (*OrderReply, error) {
	return c.invoke(ctx, "Pay", &OrderRequest{OrderID: orderID}, opts...)
}

func (c *OrderServiceClient) Cancel(ctx context.Context, orderID string, opts ...grpc.CallOption) (*OrderReply, error) {
	return c.invoke(ctx, "Cancel", &OrderRequest{OrderID: orderID}, opts...)
}

func (c *OrderServiceClient) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, opts ...grpc.CallOption) (*OrderReply, error) {
	return c.invoke(ctx, "SetStatus", &SetStatusRequest{OrderID: orderID, Status: status}, opts...)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (*OrderReply, error) {
	return c.invoke(ctx, "GetOrder", &OrderRequest{OrderID: orderID}, opts...)
}

// WatchStream receives events of type T from a server stream.
type WatchStream[T any] struct {
	stream grpc.ClientStream
}

func (w *WatchStream[T]) Recv() (domain.ChangeEvent[T], error) {
	var ev domain.ChangeEvent[T]
	err := w.stream.RecvMsg(&ev)
	return ev, err
}

func watch[T any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, req *WatchRequest, opts ...grpc.CallOption) (*WatchStream[T], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := cc.NewStream(ctx, desc, "/"+serviceName+"/"+desc.StreamName, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	// wait until the server has subscribed
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return &WatchStream[T]{stream: stream}, nil
}

func (c *OrderServiceClient) WatchOrders(ctx context.Context, req *WatchRequest, opts ...grpc.CallOption) (*WatchStream[domain.Order], error) {
	return watch[domain.Order](ctx, c.cc, &orderServiceDesc.Streams[0], req, opts...)
}

func (c *OrderServiceClient) WatchCatalog(ctx context.Context, req *WatchRequest, opts ...grpc.CallOption) (*WatchStream[domain.CatalogItem], error) {
	return watch[domain.CatalogItem](ctx, c.cc, &orderServiceDesc.Streams[1], req, opts...)
}
