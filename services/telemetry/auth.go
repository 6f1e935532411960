package telemetrysvc

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/trezcool/attendance/core/device"
)

type ctxKey int

const deviceKey ctxKey = iota

// Authenticator resolves the Device owning an API key.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (device.Device, error)
}

func WithDevice(ctx context.Context, dev device.Device) context.Context {
	return context.WithValue(ctx, deviceKey, dev)
}

func DeviceFromContext(ctx context.Context) (device.Device, bool) {
	dev, ok := ctx.Value(deviceKey).(device.Device)
	return dev, ok
}

// RequireDevice returns the authenticated Device or an Unauthenticated status.
func RequireDevice(ctx context.Context) (device.Device, error) {
	dev, ok := DeviceFromContext(ctx)
	if !ok {
		return device.Device{}, status.Error(codes.Unauthenticated, "missing device")
	}
	return dev, nil
}

func apiKeyFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("malformed authorization")
	}
	return strings.TrimSpace(parts[1]), nil
}

// NewAuthInterceptor authenticates devices by the `authorization: Bearer <api key>` metadata.
// Methods in allowUnauthenticated (e.g. health checks) bypass it.
func NewAuthInterceptor(devices Authenticator, allowUnauthenticated ...string) grpc.UnaryServerInterceptor {
	allow := make(map[string]struct{}, len(allowUnauthenticated))
	for _, m := range allowUnauthenticated {
		allow[m] = struct{}{}
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, ok := allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		key, err := apiKeyFromMD(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "auth error: %v", err)
		}
		dev, err := devices.Authenticate(ctx, key)
		if err != nil {
			if errors.Cause(err) == device.ErrInvalidAPIKey {
				return nil, status.Error(codes.Unauthenticated, "auth error: invalid api key")
			}
			return nil, status.Errorf(codes.Internal, "authenticating device: %v", err)
		}
		return handler(WithDevice(ctx, dev), req)
	}
}
