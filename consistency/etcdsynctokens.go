/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package consistency

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdSyncTokenServiceOptions struct {
	Logger     *zap.Logger
	EtcdClient *etcd.Client
	KeyPrefix  string
	InstanceID string

	// LeasePeriod bounds how long the token of a crashed instance lingers.
	LeasePeriod time.Duration

	// PublishRetries is how often publishing the local token is retried
	// before the transition is vetoed.
	PublishRetries uint64
}

// EtcdSyncTokenService considers a view consistent once every instance of the
// local cluster in that view has published the view's sync token to etcd.
// Each instance publishes under <prefix>/synctokens/<instanceID>, attached
// to a lease so that tokens of departed instances disappear.
type EtcdSyncTokenService struct {
	logger         *zap.Logger
	etcdClient     *etcd.Client
	tokensPrefix   string
	instanceID     string
	publishRetries uint64

	leaseID       etcd.LeaseID
	leaseCancelFn context.CancelFunc
}

var _ viewstate.ConsistencyService = (*EtcdSyncTokenService)(nil)

func NewEtcdSyncTokenService(ctx context.Context, opts *EtcdSyncTokenServiceOptions) (*EtcdSyncTokenService, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.InstanceID == "" {
		return nil, errors.New("an instance id must be specified")
	}

	leasePeriod := 10 * time.Second
	if opts.LeasePeriod != 0 {
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}
		leasePeriod = opts.LeasePeriod
	}

	publishRetries := opts.PublishRetries
	if publishRetries == 0 {
		publishRetries = 5
	}

	lease, err := opts.EtcdClient.Lease.Grant(ctx, int64(leasePeriod/time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "failed to grant sync token lease")
	}

	leaseCtx, leaseCancelFn := context.WithCancel(context.Background())
	leaseKaCh, err := opts.EtcdClient.Lease.KeepAlive(leaseCtx, lease.ID)
	if err != nil {
		leaseCancelFn()
		return nil, errors.Wrap(err, "failed to keep sync token lease alive")
	}

	s := &EtcdSyncTokenService{
		logger:         logger,
		etcdClient:     opts.EtcdClient,
		tokensPrefix:   opts.KeyPrefix + "/synctokens/",
		instanceID:     opts.InstanceID,
		publishRetries: publishRetries,
		leaseID:        lease.ID,
		leaseCancelFn:  leaseCancelFn,
	}

	go func() {
		for range leaseKaCh {
		}

		if leaseCtx.Err() == nil {
			s.logger.Warn("sync token lease keep-alive stopped unexpectedly")
		}
	}()

	return s, nil
}

func (s *EtcdSyncTokenService) tokenKey(instanceID string) string {
	return s.tokensPrefix + instanceID
}

func (s *EtcdSyncTokenService) Sync(ctx context.Context, view *topology.View, callback func()) error {
	local := view.LocalInstance()
	if local == nil {
		return ErrNoLocalInstance
	}

	var expected []string
	for _, instance := range view.ClusterInstances(local.ClusterID) {
		expected = append(expected, instance.InstanceID)
	}

	err := s.publish(ctx, view.SyncToken)
	if err != nil {
		return err
	}

	go s.awaitTokens(ctx, view.SyncToken, expected, callback)

	return nil
}

func (s *EtcdSyncTokenService) publish(ctx context.Context, syncToken string) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.publishRetries),
		ctx)

	err := backoff.RetryNotify(func() error {
		_, err := s.etcdClient.KV.Put(ctx, s.tokenKey(s.instanceID), syncToken, etcd.WithLease(s.leaseID))
		return err
	}, b, func(err error, next time.Duration) {
		s.logger.Debug("failed to publish sync token, retrying",
			zap.String("syncToken", syncToken),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish sync token")
	}

	return nil
}

func (s *EtcdSyncTokenService) awaitTokens(ctx context.Context, syncToken string, expected []string, callback func()) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		done, err := s.watchTokens(ctx, syncToken, expected)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			return err
		}
		if !done {
			return errors.New("sync token watch closed")
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		s.logger.Warn("sync token watch failed, restarting",
			zap.String("syncToken", syncToken),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		s.logger.Debug("stopped waiting for sync tokens",
			zap.String("syncToken", syncToken),
			zap.Error(err))
		return
	}

	s.logger.Debug("all instances reached sync token",
		zap.String("syncToken", syncToken),
		zap.Strings("instances", expected))

	callback()
}

// watchTokens returns true once every expected instance has published the
// sync token.
func (s *EtcdSyncTokenService) watchTokens(ctx context.Context, syncToken string, expected []string) (bool, error) {
	tokens := make(map[string]string)

	resp, err := s.etcdClient.KV.Get(ctx, s.tokensPrefix, etcd.WithPrefix())
	if err != nil {
		return false, errors.Wrap(err, "failed to fetch sync tokens")
	}

	for _, kv := range resp.Kvs {
		tokens[strings.TrimPrefix(string(kv.Key), s.tokensPrefix)] = string(kv.Value)
	}
	if tokensReached(tokens, syncToken, expected) {
		return true, nil
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()

	watchCh := s.etcdClient.Watcher.Watch(watchCtx, s.tokensPrefix,
		etcd.WithPrefix(),
		etcd.WithRev(resp.Header.Revision+1))
	for watchResp := range watchCh {
		if err := watchResp.Err(); err != nil {
			return false, errors.Wrap(err, "sync token watch failed")
		}

		for _, evt := range watchResp.Events {
			instanceID := strings.TrimPrefix(string(evt.Kv.Key), s.tokensPrefix)
			switch evt.Type {
			case mvccpb.PUT:
				tokens[instanceID] = string(evt.Kv.Value)
			case mvccpb.DELETE:
				delete(tokens, instanceID)
			}
		}

		if tokensReached(tokens, syncToken, expected) {
			return true, nil
		}
	}

	return false, nil
}

func tokensReached(tokens map[string]string, syncToken string, expected []string) bool {
	for _, instanceID := range expected {
		if tokens[instanceID] != syncToken {
			return false
		}
	}
	return true
}

// Close withdraws the published token of this instance.
func (s *EtcdSyncTokenService) Close(ctx context.Context) error {
	s.leaseCancelFn()

	_, err := s.etcdClient.Lease.Revoke(ctx, s.leaseID)
	if err != nil {
		return errors.Wrap(err, "failed to revoke sync token lease")
	}

	return nil
}
