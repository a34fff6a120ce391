// Package grpc exposes analytics recording and reporting over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated stubs; the field names match the HTTP JSON bodies.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/eventdeck/eventdeck/internal/analytics"
	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "eventdeck.v1.Analytics"

// Engine is the part of the analytics engine served over gRPC.
type Engine interface {
	Record(ctx context.Context, action types.Action, eventID int64, payload []byte) (int64, error)
	Dashboard(ctx context.Context, period types.Period) (*analytics.Dashboard, error)
	Funnel(ctx context.Context, eventID int64, period types.Period) (analytics.Funnel, error)
}

// AnalyticsServer implements the eventdeck.v1.Analytics service.
type AnalyticsServer struct {
	engine Engine
	logger *slog.Logger
}

// NewAnalyticsServer creates a gRPC analytics server.
func NewAnalyticsServer(engine Engine, logger *slog.Logger) *AnalyticsServer {
	return &AnalyticsServer{engine: engine, logger: observability.Component(logger, "grpc")}
}

// Register attaches the service to s.
func (s *AnalyticsServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Record stores one analytics row. The request carries action, event_id and
// an optional payload object.
func (s *AnalyticsServer) Record(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	fields := req.GetFields()

	action := types.Action(fields["action"].GetStringValue())
	eventID, err := intField(fields, "event_id")
	if err != nil {
		return nil, err
	}

	var payload []byte
	if v, ok := fields["payload"]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			payload, err = protojson.Marshal(v)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid payload: %v", err)
			}
		}
	}

	ctx = analytics.WithIdentity(ctx, identityFromContext(ctx))
	id, err := s.engine.Record(ctx, action, eventID, payload)
	if err != nil {
		s.logger.Warn("record failed", "action", action, "event_id", eventID, "request_id", requestID, "error", err)
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":         float64(id),
		"request_id": requestID,
	})
}

// Dashboard returns the analytics dashboard for the requested period.
func (s *AnalyticsServer) Dashboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	period := types.ParsePeriod(req.GetFields()["period"].GetStringValue())
	d, err := s.engine.Dashboard(ctx, period)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(d)
}

// Funnel returns the per-action funnel for one event.
func (s *AnalyticsServer) Funnel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	eventID, err := intField(fields, "event_id")
	if err != nil {
		return nil, err
	}
	period := types.ParsePeriod(fields["period"].GetStringValue())
	f, err := s.engine.Funnel(ctx, eventID, period)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(f)
}

func intField(fields map[string]*structpb.Value, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int64(n.NumberValue), nil
}

// toStruct converts a JSON-tagged Go value into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps structured errors onto gRPC status codes.
func toStatus(err error) error {
	switch apperrors.GetCategory(err) {
	case apperrors.ErrCategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case apperrors.ErrCategoryNotFound:
		return status.Error(codes.NotFound, err.Error())
	}
	if apperrors.IsRetryable(err) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// identityFromContext builds the caller identity from the peer address and
// request metadata.
func identityFromContext(ctx context.Context) analytics.Identity {
	var id analytics.Identity
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			id.IP = host
		} else {
			id.IP = p.Addr.String()
		}
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-forwarded-for"); len(v) > 0 {
			if first := strings.TrimSpace(strings.Split(v[0], ",")[0]); net.ParseIP(first) != nil {
				id.IP = first
			}
		}
		if v := md.Get("user-agent"); len(v) > 0 {
			id.UserAgent = v[0]
		}
		if v := md.Get("x-session-id"); len(v) > 0 {
			id.SessionID = v[0]
		}
	}
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
	}
	return id
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

type analyticsService interface {
	Record(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Funnel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(analyticsService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(analyticsService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(analyticsService), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*analyticsService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Record", analyticsService.Record),
		unaryHandler("Dashboard", analyticsService.Dashboard),
		unaryHandler("Funnel", analyticsService.Funnel),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eventdeck/v1/analytics.proto",
}
