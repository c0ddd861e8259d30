package interceptors

import (
	"context"

	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
)

type MetricsInterceptor struct {
	metrics *metrics.DiscoveryMetrics
}

func NewMetricsInterceptor(metrics *metrics.DiscoveryMetrics) *MetricsInterceptor {
	return &MetricsInterceptor{
		metrics: metrics,
	}
}

func (mi *MetricsInterceptor) begin(ctx context.Context, method string) {
	mi.metrics.GrpcRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	mi.metrics.GrpcActiveRequests.Add(ctx, 1)
}

func (mi *MetricsInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response interface{}, err error) {
		mi.begin(ctx, info.FullMethod)
		defer mi.metrics.GrpcActiveRequests.Add(ctx, -1)

		return handler(ctx, req)
	}
}

// StreamInterceptor counts a stream as active for its whole lifetime, a
// health Watch call stays active until the client goes away.
func (mi *MetricsInterceptor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		mi.begin(ctx, info.FullMethod)
		defer mi.metrics.GrpcActiveRequests.Add(ctx, -1)

		return handler(srv, ss)
	}
}
