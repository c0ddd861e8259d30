/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package grpchealth publishes the settled state of the discovery view through
// the standard gRPC health checking protocol.
package grpchealth

import (
	"github.com/couchbase/stellar-discovery/topology"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const TopologyServiceName = "stellar.discovery.topology"

// HealthListener reports SERVING while the view is settled and NOT_SERVING
// between a CHANGING event and the event which settles the view again.
type HealthListener struct {
	logger       *zap.Logger
	healthServer *health.Server
	serviceName  string
}

var _ topology.EventListener = (*HealthListener)(nil)

func NewHealthListener(logger *zap.Logger, healthServer *health.Server, serviceName string) *HealthListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if serviceName == "" {
		serviceName = TopologyServiceName
	}

	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthListener{
		logger:       logger,
		healthServer: healthServer,
		serviceName:  serviceName,
	}
}

func (l *HealthListener) HandleTopologyEvent(evt *topology.Event) {
	var servingStatus grpc_health_v1.HealthCheckResponse_ServingStatus
	switch evt.Type {
	case topology.EventInit, topology.EventChanged, topology.EventPropertiesChanged:
		servingStatus = grpc_health_v1.HealthCheckResponse_SERVING
	case topology.EventChanging:
		servingStatus = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	default:
		l.logger.Warn("ignoring unknown topology event type", zap.String("type", string(evt.Type)))
		return
	}

	l.logger.Debug("updating topology health",
		zap.String("service", l.serviceName),
		zap.Stringer("status", servingStatus))

	l.healthServer.SetServingStatus(l.serviceName, servingStatus)
}
