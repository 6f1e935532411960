package telemetrysvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/device"
)

type (
	DeviceService interface {
		Authenticator
		Heartbeat(ctx context.Context, dev device.Device, t device.Telemetry) (device.HeartbeatReply, error)
	}

	CaptureRecorder interface {
		RecordCapture(ctx context.Context, deviceID string, c attendance.Capture) (attendance.Record, error)
	}

	// Server implements DeviceTelemetry on top of the device & attendance services.
	Server struct {
		devices DeviceService
		records CaptureRecorder
		logger  core.Logger
	}
)

var _ TelemetryServer = (*Server)(nil)

func NewServer(devices DeviceService, records CaptureRecorder, logger core.Logger) *Server {
	vala.BeginValidation().Validate(
		vala.IsNotNil(devices, "devices"),
		vala.IsNotNil(records, "records"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Server{devices: devices, records: records, logger: logger}
}

func (s *Server) Heartbeat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	dev, err := RequireDevice(ctx)
	if err != nil {
		return nil, err
	}

	t := device.Telemetry{
		CPUUsage:      numberField(in, "cpu_usage"),
		MemoryUsage:   numberField(in, "memory_usage"),
		Temperature:   numberField(in, "temperature"),
		UptimeSeconds: int64(numberField(in, "uptime_seconds")),
		CapturesToday: int(numberField(in, "captures_today")),
	}
	reply, err := s.devices.Heartbeat(ctx, dev, t)
	if err != nil {
		return nil, s.internal("recording heartbeat", err)
	}

	settings, err := toMap(reply.Settings)
	if err != nil {
		return nil, s.internal("encoding settings", err)
	}
	var command interface{}
	if reply.Command != "" {
		command = reply.Command
	}
	out, err := structpb.NewStruct(map[string]interface{}{"command": command, "settings": settings})
	if err != nil {
		return nil, s.internal("building heartbeat reply", err)
	}
	return out, nil
}

func (s *Server) ReportCapture(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	dev, err := RequireDevice(ctx)
	if err != nil {
		return nil, err
	}

	c := attendance.Capture{
		StudentNumber: stringField(in, "student_id"),
		CourseID:      stringField(in, "course_id"),
	}
	if c.StudentNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "student_id is required")
	}
	if ts := stringField(in, "captured_at"); ts != "" {
		if c.CapturedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, status.Error(codes.InvalidArgument, "captured_at must be an RFC3339 timestamp")
		}
	}

	rec, err := s.records.RecordCapture(ctx, dev.ID, c)
	if err != nil {
		var vErr *core.ValidationError
		switch {
		case errors.Cause(err) == attendance.ErrAlreadyRecorded:
			return nil, status.Error(codes.AlreadyExists, err.Error())
		case core.IsNotFound(err):
			return nil, status.Error(codes.NotFound, err.Error())
		case errors.As(err, &vErr):
			return nil, status.Error(codes.InvalidArgument, vErr.Error())
		}
		return nil, s.internal("recording capture", err)
	}

	out, err := structpb.NewStruct(map[string]interface{}{"record_id": rec.ID, "status": rec.Status})
	if err != nil {
		return nil, s.internal("building capture reply", err)
	}
	return out, nil
}

func (s *Server) internal(msg string, err error) error {
	err = errors.Wrap(err, msg)
	s.logger.Error(fmt.Sprintf("telemetry: %v", err), err)
	return status.Error(codes.Internal, msg)
}

func numberField(in *structpb.Struct, name string) float64 {
	return in.GetFields()[name].GetNumberValue()
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// toMap turns v into the generic form structpb accepts.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewGRPCServer returns a gRPC server exposing DeviceTelemetry & the standard health service.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnaryInterceptor(NewAuthInterceptor(srv.devices, HealthCheckMethod)))
	gs := grpc.NewServer(opts...)
	RegisterTelemetryServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// Serve serves gs on lis in the background & returns its shutdown function.
func Serve(gs *grpc.Server, lis net.Listener, logger core.Logger) func(context.Context) error {
	go func() {
		if err := gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			logger.Error(fmt.Sprintf("telemetry: serving: %v", err), err)
		}
	}()

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { gs.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			gs.Stop()
			return ctx.Err()
		}
	}
}
