package telemetrysvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "attendance.telemetry.v1.DeviceTelemetry"

	HeartbeatMethod     = "/" + ServiceName + "/Heartbeat"
	ReportCaptureMethod = "/" + ServiceName + "/ReportCapture"
	HealthCheckMethod   = "/grpc.health.v1.Health/Check"
)

// TelemetryServer is the server API of DeviceTelemetry.
// Requests & replies are free-form google.protobuf.Struct messages.
type TelemetryServer interface {
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportCapture(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: unaryHandler(HeartbeatMethod, TelemetryServer.Heartbeat)},
		{MethodName: "ReportCapture", Handler: unaryHandler(ReportCaptureMethod, TelemetryServer.ReportCapture)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "attendance/telemetry/v1/telemetry.proto",
}

func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(TelemetryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TelemetryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TelemetryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
