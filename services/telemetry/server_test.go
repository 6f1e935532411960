package telemetrysvc

import (
	"context"
	"log"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/device"
	logsvc "github.com/trezcool/attendance/services/logger"
)

const apiKey = "dk_test"

type fakeDevices struct {
	dev        device.Device
	telemetry  device.Telemetry
	heartbeats int
}

func (f *fakeDevices) Authenticate(_ context.Context, key string) (device.Device, error) {
	if key != apiKey {
		return device.Device{}, device.ErrInvalidAPIKey
	}
	return f.dev, nil
}

func (f *fakeDevices) Heartbeat(_ context.Context, dev device.Device, t device.Telemetry) (device.HeartbeatReply, error) {
	f.heartbeats++
	f.telemetry = t
	reply := device.HeartbeatReply{Command: dev.PendingCommand.String, Settings: device.DefaultSettings()}
	f.dev.PendingCommand = null.String{}
	return reply, nil
}

type fakeRecorder struct {
	captures []attendance.Capture
}

func (f *fakeRecorder) RecordCapture(_ context.Context, deviceID string, c attendance.Capture) (attendance.Record, error) {
	if c.CapturedAt.After(time.Now().Add(time.Hour)) {
		return attendance.Record{}, core.NewValidationError(attendance.ErrFutureDate, core.FieldError{Field: "captured_at", Error: attendance.ErrFutureDate.Error()})
	}
	switch c.StudentNumber {
	case "ASTU/9999/20":
		return attendance.Record{}, attendance.ErrUnknownStudentNum
	case "ASTU/1001/20":
		for _, prev := range f.captures {
			if prev.StudentNumber == c.StudentNumber {
				return attendance.Record{}, attendance.ErrAlreadyRecorded
			}
		}
	}
	f.captures = append(f.captures, c)
	return attendance.Record{ID: "rec-1", Status: attendance.StatusPending, DeviceID: null.StringFrom(deviceID)}, nil
}

func startServer(t *testing.T, devices *fakeDevices, records *fakeRecorder) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	logger := logsvc.NewRollbarLogger(log.New(log.Writer(), "GRPC : ", log.LstdFlags), core.NewTestConfig())
	gs := NewGRPCServer(NewServer(devices, records, logger))
	stop := Serve(gs, lis, logger)
	t.Cleanup(func() { _ = stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestTelemetry_Heartbeat(t *testing.T) {
	devices := &fakeDevices{dev: device.Device{ID: "d1", PendingCommand: null.StringFrom(device.CommandRestart)}}
	conn := startServer(t, devices, new(fakeRecorder))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(conn, apiKey)
	reply, err := client.Heartbeat(ctx, device.Telemetry{CPUUsage: 45.5, Temperature: 42, UptimeSeconds: 475200, CapturesToday: 3})
	require.NoError(t, err)
	assert.Equal(t, device.CommandRestart, reply.Command)
	assert.Equal(t, device.DefaultSettings(), reply.Settings)
	assert.Equal(t, 45.5, devices.telemetry.CPUUsage)
	assert.Equal(t, int64(475200), devices.telemetry.UptimeSeconds)
	assert.Equal(t, 3, devices.telemetry.CapturesToday)

	reply, err = client.Heartbeat(ctx, device.Telemetry{})
	require.NoError(t, err)
	assert.Empty(t, reply.Command, "commands are handed over once")
}

func TestTelemetry_Auth(t *testing.T) {
	devices := &fakeDevices{dev: device.Device{ID: "d1"}}
	conn := startServer(t, devices, new(fakeRecorder))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewClient(conn, "wrong").Heartbeat(ctx, device.Telemetry{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Zero(t, devices.heartbeats)

	// health checks need no key
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.Status)
}

func TestTelemetry_ReportCapture(t *testing.T) {
	records := new(fakeRecorder)
	conn := startServer(t, &fakeDevices{dev: device.Device{ID: "d1"}}, records)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(conn, apiKey)

	capturedAt := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)
	id, err := client.ReportCapture(ctx, "ASTU/1001/20", "", capturedAt)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
	require.Len(t, records.captures, 1)
	assert.True(t, records.captures[0].CapturedAt.Equal(capturedAt))

	tests := []struct {
		name    string
		student string
		want    codes.Code
	}{
		{"duplicate", "ASTU/1001/20", codes.AlreadyExists},
		{"unknown student", "ASTU/9999/20", codes.NotFound},
		{"missing student", "", codes.InvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.ReportCapture(ctx, tc.student, "", time.Time{})
			assert.Equal(t, tc.want, status.Code(err))
		})
	}

	t.Run("captured in the future", func(t *testing.T) {
		_, err := client.ReportCapture(ctx, "ASTU/1002/20", "", time.Now().Add(48*time.Hour))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Len(t, records.captures, 1)
	})
}
