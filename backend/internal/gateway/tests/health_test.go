package tests

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"schoolpoints/backend/internal/gateway"
)

const bufSize = 1024 * 1024

func TestGateway_HealthAndMetrics(t *testing.T) {
	env := setupGatewayTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "ok", body["status"])

	// generate at least one routed sample first
	env.do(t, http.MethodGet, "/api/events/types", "", nil)

	rr = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "schoolpoints_http_requests_total")
	assert.Contains(t, rr.Body.String(), `route="/api/events/types"`)
}

func TestGRPCHealth_FollowsStore(t *testing.T) {
	env := setupGatewayTestEnv(t)
	logger := zap.NewNop()

	lis := bufconn.Listen(bufSize)
	srv, hs := gateway.NewGRPCServer(logger)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough://bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := grpc_health_v1.NewHealthClient(conn)

	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: gateway.HealthService})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gateway.WatchStore(ctx, env.Store, hs, 20*time.Millisecond, logger)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return check() == grpc_health_v1.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())
}
