/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package grpchealth

import (
	"crypto/tls"
	"net"

	"github.com/couchbase/stellar-discovery/pkg/interceptors"
	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type ServerOptions struct {
	Logger        *zap.Logger
	Metrics       *metrics.DiscoveryMetrics
	ListenAddress string

	// TLSConfig enables TLS on the server when set.
	TLSConfig *tls.Config
}

type Server struct {
	logger        *zap.Logger
	listenAddress string
	grpcServer    *grpc.Server
	healthServer  *health.Server
	listener      *HealthListener
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	discMetrics := opts.Metrics
	if discMetrics == nil {
		discMetrics = metrics.GetDiscoveryMetrics()
	}

	recoveryHandler := func(p any) (err error) {
		logger.Error("a panic has been triggered", zap.Any("error: ", p))
		return status.Errorf(codes.Internal, "An internal error occurred.")
	}

	metricsInterceptor := interceptors.NewMetricsInterceptor(discMetrics)
	loggingInterceptor := interceptors.NewRequestLoggingInterceptor(logger.Named("requests"))

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			metricsInterceptor.UnaryInterceptor(),
			loggingInterceptor.UnaryInterceptor(),
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler)),
		),
		grpc.ChainStreamInterceptor(
			metricsInterceptor.StreamInterceptor(),
			loggingInterceptor.StreamInterceptor(),
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler)),
		),
	}

	if opts.TLSConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TLSConfig)))
	}

	switch otel.GetMeterProvider().(type) {
	case noop.MeterProvider:
	default:
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	grpcServer := grpc.NewServer(serverOpts...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		logger:        logger,
		listenAddress: opts.ListenAddress,
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		listener:      NewHealthListener(logger.Named("listener"), healthServer, TopologyServiceName),
	}
}

// TopologyListener returns the listener which must be bound to the view-state
// manager for the topology service status to follow the view.
func (s *Server) TopologyListener() *HealthListener {
	return s.listener
}

func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("serving grpc health", zap.Stringer("address", l.Addr()))
	return s.grpcServer.Serve(l)
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return err
	}

	return s.Serve(l)
}

// Shutdown marks every service as NOT_SERVING, so that watchers observe the
// shutdown, and then gracefully stops the server.
func (s *Server) Shutdown() {
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}
