/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbase/stellar-discovery/utils/buildversion"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type DiscoveryMetrics struct {
	EventsEmitted      metric.Int64Counter
	EventsDelivered    metric.Int64Counter
	DeliveryFailures   metric.Int64Counter
	EventsInFlight     metric.Int64UpDownCounter
	SyncVetoes         metric.Int64Counter
	SettleDelays       metric.Int64Counter
	SnapshotsProcessed metric.Int64Counter
	GrpcRequests       metric.Int64Counter
	GrpcActiveRequests metric.Int64UpDownCounter
}

var (
	discoveryMetrics     *DiscoveryMetrics
	discoveryMetricsLock sync.Mutex
)

func GetDiscoveryMetrics() *DiscoveryMetrics {
	discoveryMetricsLock.Lock()

	if discoveryMetrics != nil {
		discoveryMetricsLock.Unlock()
		return discoveryMetrics
	}

	discoveryMetrics = newDiscoveryMetrics()

	discoveryMetricsLock.Unlock()
	return discoveryMetrics
}

var buildVersion string = buildversion.GetVersion("github.com/couchbase/stellar-discovery")

func newDiscoveryMetrics() *DiscoveryMetrics {
	meter := otel.Meter(
		"com.couchbase.stellar-discovery",
		metric.WithInstrumentationVersion(buildVersion))

	eventsEmitted, _ := meter.Int64Counter("viewstate_events_total",
		metric.WithDescription("Topology events emitted, per listener, by type."))
	eventsDelivered, _ := meter.Int64Counter("viewstate_events_delivered_total")
	deliveryFailures, _ := meter.Int64Counter("viewstate_delivery_failures_total")
	eventsInFlight, _ := meter.Int64UpDownCounter("viewstate_events_in_flight")
	syncVetoes, _ := meter.Int64Counter("viewstate_sync_vetoes_total",
		metric.WithDescription("Transitions dropped because the consistency service failed."))
	settleDelays, _ := meter.Int64Counter("viewstate_settle_delays_total")
	snapshotsProcessed, _ := meter.Int64Counter("discovery_snapshots_total")
	grpcRequests, _ := meter.Int64Counter("discovery_grpc_requests_total")
	grpcActiveRequests, _ := meter.Int64UpDownCounter("discovery_grpc_active_requests")

	return &DiscoveryMetrics{
		EventsEmitted:      eventsEmitted,
		EventsDelivered:    eventsDelivered,
		DeliveryFailures:   deliveryFailures,
		EventsInFlight:     eventsInFlight,
		SyncVetoes:         syncVetoes,
		SettleDelays:       settleDelays,
		SnapshotsProcessed: snapshotsProcessed,
		GrpcRequests:       grpcRequests,
		GrpcActiveRequests: grpcActiveRequests,
	}
}
