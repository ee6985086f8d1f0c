package handler

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/seckill/internal/core/service"
)

const seckillServiceName = "seckill.v1.Seckill"

// SeckillServer is the gRPC surface. Messages are google.protobuf.Struct:
// Submit takes {item_id, user_id} and returns {success, message};
// CheckStock takes {item_id} and returns {item_id, stock}.
type SeckillServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var seckillServiceDesc = grpc.ServiceDesc{
	ServiceName: seckillServiceName,
	HandlerType: (*SeckillServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", SeckillServer.Submit)},
		{MethodName: "CheckStock", Handler: unaryHandler("CheckStock", SeckillServer.CheckStock)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seckill/v1/seckill.proto",
}

func RegisterSeckillServer(s grpc.ServiceRegistrar, srv SeckillServer) {
	s.RegisterService(&seckillServiceDesc, srv)
}

func unaryHandler(method string, call func(SeckillServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + seckillServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SeckillServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SeckillServer), ctx, req.(*structpb.Struct))
		})
	}
}

type GRPCHandler struct {
	gate   Admitter
	stock  StockChecker
	logger *slog.Logger
}

func NewGRPCHandler(gate Admitter, stock StockChecker, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{gate: gate, stock: stock, logger: logger}
}

func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID := stringField(req, "item_id")
	userID := stringField(req, "user_id")
	if itemID == "" || userID == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id and user_id are required")
	}

	if err := h.gate.Submit(ctx, itemID, userID); err != nil {
		code, message := codeFor(err)
		if code == codes.Internal {
			h.logger.Error("seckill request failed", "item_id", itemID, "user_id", userID, "error", err)
			return nil, status.Error(code, message)
		}
		return submitResponse(false, message), nil
	}

	return submitResponse(true, "request accepted"), nil
}

func (h *GRPCHandler) CheckStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID := stringField(req, "item_id")
	if itemID == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id is required")
	}

	stock, err := h.stock.CheckStock(ctx, itemID)
	if err != nil {
		code, message := codeFor(err)
		if code == codes.Internal {
			h.logger.Error("stock query failed", "item_id", itemID, "error", err)
		}
		return nil, status.Error(code, message)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"item_id": structpb.NewStringValue(itemID),
		"stock":   structpb.NewNumberValue(float64(stock)),
	}}, nil
}

func submitResponse(success bool, message string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"success": structpb.NewBoolValue(success),
		"message": structpb.NewStringValue(message),
	}}
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func codeFor(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, service.ErrSoldOut):
		return codes.ResourceExhausted, "sold out"
	case errors.Is(err, service.ErrBusy):
		return codes.Unavailable, "too many requests, retry later"
	case errors.Is(err, service.ErrItemNotFound):
		return codes.NotFound, "item not found"
	case errors.Is(err, service.ErrSaleNotStarted):
		return codes.FailedPrecondition, "sale not started"
	case errors.Is(err, service.ErrSaleEnded):
		return codes.FailedPrecondition, "sale ended"
	case errors.Is(err, service.ErrGateClosed):
		return codes.Unavailable, "service shutting down"
	}
	return codes.Internal, "internal error"
}
