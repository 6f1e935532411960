package telemetrysvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/trezcool/attendance/core/device"
)

// Client is what a device runs to talk to DeviceTelemetry.
type Client struct {
	conn   grpc.ClientConnInterface
	apiKey string
}

func NewClient(conn grpc.ClientConnInterface, apiKey string) *Client {
	return &Client{conn: conn, apiKey: apiKey}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.apiKey)
}

func (c *Client) Heartbeat(ctx context.Context, t device.Telemetry) (device.HeartbeatReply, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"cpu_usage":      t.CPUUsage,
		"memory_usage":   t.MemoryUsage,
		"temperature":    t.Temperature,
		"uptime_seconds": float64(t.UptimeSeconds),
		"captures_today": float64(t.CapturesToday),
	})
	if err != nil {
		return device.HeartbeatReply{}, errors.Wrap(err, "building heartbeat")
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), HeartbeatMethod, in, out); err != nil {
		return device.HeartbeatReply{}, err
	}

	var reply device.HeartbeatReply
	raw, err := out.MarshalJSON()
	if err != nil {
		return device.HeartbeatReply{}, errors.Wrap(err, "decoding heartbeat reply")
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return device.HeartbeatReply{}, errors.Wrap(err, "decoding heartbeat reply")
	}
	return reply, nil
}

// ReportCapture reports a detected student & returns the created record's ID.
func (c *Client) ReportCapture(ctx context.Context, studentNumber, courseID string, capturedAt time.Time) (string, error) {
	fields := map[string]interface{}{"student_id": studentNumber}
	if courseID != "" {
		fields["course_id"] = courseID
	}
	if !capturedAt.IsZero() {
		fields["captured_at"] = capturedAt.Format(time.RFC3339)
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return "", errors.Wrap(err, "building capture")
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), ReportCaptureMethod, in, out); err != nil {
		return "", err
	}
	return out.GetFields()["record_id"].GetStringValue(), nil
}
