package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type RequestLoggingInterceptor struct {
	logger *zap.Logger
}

func NewRequestLoggingInterceptor(log *zap.Logger) *RequestLoggingInterceptor {
	return &RequestLoggingInterceptor{
		logger: log,
	}
}

func peerFields(ctx context.Context, method string) []zap.Field {
	fields := []zap.Field{zap.String("method", method)}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, zap.String("ip", p.Addr.String()))
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		fields = append(fields, zap.Strings("user-agent", md.Get("user-agent")))
	}

	return fields
}

func (rli *RequestLoggingInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		stime := time.Now()
		resp, err := handler(ctx, req)

		rli.logger.Debug("request handled",
			append(peerFields(ctx, info.FullMethod),
				zap.Duration("duration", time.Since(stime)),
				zap.Error(err))...)

		return resp, err
	}
}

func (rli *RequestLoggingInterceptor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		fields := peerFields(ss.Context(), info.FullMethod)
		rli.logger.Debug("stream opened", fields...)

		err := handler(srv, ss)

		rli.logger.Debug("stream closed", append(fields, zap.Error(err))...)

		return err
	}
}
