package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"community_chat_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StartHealthServer 啟動 grpc health service, 回傳 server 供 GracefulStop
func StartHealthServer(port, serviceName string) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, fmt.Errorf("grpc listen :%s: %w", port, err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Log.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			logger.Log.Error("grpc health server stopped", zap.Error(err))
		}
	}()

	return srv, hs, nil
}

// WaitServing 等待遠端 service 回報 SERVING, 逾時回傳錯誤
func WaitServing(ctx context.Context, addr, serviceName string, timeout time.Duration) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			logger.Log.Info("remote service is SERVING", zap.String("addr", addr))
			return nil
		}
		logger.Log.Debug("health check not ready", zap.String("addr", addr), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("service[%s] did not become SERVING: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}
