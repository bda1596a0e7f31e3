package grpchealth_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/BrandonDHaskell/Portunus/gate/internal/grpchealth"
)

func dial(t *testing.T, srv *grpchealth.Server) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestCheck_ReflectsProbes(t *testing.T) {
	var reader atomic.Bool
	srv := grpchealth.New(map[string]grpchealth.Probe{
		"store":       func(context.Context) bool { return true },
		"card_reader": func(context.Context) bool { return reader.Load() },
	}, 0, zap.NewNop())
	c := dial(t, srv)

	srv.Check(context.Background())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, "store"))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, "card_reader"))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))

	reader.Store(true)
	srv.Check(context.Background())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, "card_reader"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, grpchealth.Overall))
}

func TestCheck_UnknownService(t *testing.T) {
	srv := grpchealth.New(map[string]grpchealth.Probe{
		"store": func(context.Context) bool { return true },
	}, 0, zap.NewNop())
	c := dial(t, srv)

	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "billing"})
	require.Equal(t, codes.NotFound, status.Code(err))
}
