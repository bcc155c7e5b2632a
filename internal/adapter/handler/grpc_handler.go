package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/core/service"
	"github.com/rl1809/pharmacy/internal/port"
)

const pharmacyServiceName = "pharmacy.v1.PharmacyService"

// PharmacyServer exposes the prescription workflow over gRPC. Requests and
// responses are free-form structs; every request carries "prescription_id".
type PharmacyServer interface {
	GetPrescription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessPrescription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PayPrescription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelPrescription(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var PharmacyServiceDesc = grpc.ServiceDesc{
	ServiceName: pharmacyServiceName,
	HandlerType: (*PharmacyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPrescription", Handler: unaryHandler("GetPrescription", PharmacyServer.GetPrescription)},
		{MethodName: "ProcessPrescription", Handler: unaryHandler("ProcessPrescription", PharmacyServer.ProcessPrescription)},
		{MethodName: "PayPrescription", Handler: unaryHandler("PayPrescription", PharmacyServer.PayPrescription)},
		{MethodName: "CancelPrescription", Handler: unaryHandler("CancelPrescription", PharmacyServer.CancelPrescription)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pharmacy/v1/pharmacy.proto",
}

func RegisterPharmacyServer(s grpc.ServiceRegistrar, srv PharmacyServer) {
	s.RegisterService(&PharmacyServiceDesc, srv)
}

func unaryHandler(method string, call func(PharmacyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + pharmacyServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PharmacyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		next := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PharmacyServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, next)
	}
}

type GRPCHandler struct {
	prescriptions *service.PrescriptionService
	logger        *zap.Logger
}

var _ PharmacyServer = (*GRPCHandler)(nil)

func NewGRPCHandler(prescriptions *service.PrescriptionService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{prescriptions: prescriptions, logger: logger}
}

func (h *GRPCHandler) GetPrescription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, id := callerAndID(ctx, req)
	p, err := h.prescriptions.Get(ctx, caller, id)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(p)
}

func (h *GRPCHandler) ProcessPrescription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, id := callerAndID(ctx, req)
	res, err := h.prescriptions.Process(ctx, caller, id)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(res)
}

func (h *GRPCHandler) PayPrescription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, id := callerAndID(ctx, req)
	payment, err := h.prescriptions.Pay(ctx, caller, id)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]any{"payment": payment})
}

func (h *GRPCHandler) CancelPrescription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, id := callerAndID(ctx, req)
	if err := h.prescriptions.Cancel(ctx, caller, id); err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]any{
		"message": fmt.Sprintf("Prescription %s cancelled and deleted successfully.", id),
	})
}

func callerAndID(ctx context.Context, req *structpb.Struct) (domain.Principal, string) {
	caller, _ := principalFrom(ctx)
	return caller, req.GetFields()["prescription_id"].GetStringValue()
}

var grpcCodeByKind = map[domain.ErrorKind]codes.Code{
	domain.KindValidation:   codes.InvalidArgument,
	domain.KindNotFound:     codes.NotFound,
	domain.KindConflict:     codes.FailedPrecondition,
	domain.KindForbidden:    codes.PermissionDenied,
	domain.KindUnauthorized: codes.Unauthenticated,
	domain.KindUpstream:     codes.Unavailable,
	domain.KindUnexpected:   codes.Internal,
}

func (h *GRPCHandler) toStatus(err error) error {
	code, ok := grpcCodeByKind[domain.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	if code == codes.Internal || code == codes.Unavailable {
		h.logger.Error("grpc request failed", zap.Error(err))
	}
	return status.Error(code, domain.MessageOf(err))
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// UnaryAuthInterceptor resolves the "authorization" metadata entry the same
// way the HTTP middleware resolves the header. Health checks pass through.
func UnaryAuthInterceptor(auth port.AuthService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return next(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		token, ok := bearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "Unauthorized: Missing or invalid token")
		}

		p, err := auth.Validate(ctx, token)
		if err != nil {
			code, ok := grpcCodeByKind[domain.KindOf(err)]
			if !ok {
				code = codes.Internal
			}
			return nil, status.Error(code, domain.MessageOf(err))
		}
		return next(withPrincipal(ctx, p), req)
	}
}

func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch code {
		case codes.OK:
			logger.Info("grpc request", fields...)
		case codes.Internal, codes.Unavailable, codes.Unknown:
			logger.Error("grpc request", fields...)
		default:
			logger.Warn("grpc request", fields...)
		}
		return resp, err
	}
}

// NewGRPCServer builds a server with logging and auth interceptors, the
// pharmacy service and the standard health service.
func NewGRPCServer(h *GRPCHandler, auth port.AuthService, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryLogger(logger), UnaryAuthInterceptor(auth)))
	srv := grpc.NewServer(opts...)
	RegisterPharmacyServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(pharmacyServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
