/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package goclustering

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

type InProcProviderOptions struct {
	DisableVersions bool
}

type inProcMembership struct {
	parent   *InProcProvider
	memberID string
	metaData []byte
}

type inProcWatcher struct {
	signals []*Snapshot
	wakeCh  chan struct{}
}

// InProcProvider tracks members within a single process, for single node
// deployments and for tests.
type InProcProvider struct {
	lock     sync.Mutex
	revision uint64
	members  []*inProcMembership
	watchers []*inProcWatcher
}

var _ Provider = (*InProcProvider)(nil)

func NewInProcProvider(opts InProcProviderOptions) (*InProcProvider, error) {
	var initialVersion uint64 = 1
	if opts.DisableVersions {
		initialVersion = 0
	}

	return &InProcProvider{
		revision: initialVersion,
	}, nil
}

func (p *InProcProvider) getSnapLocked() *Snapshot {
	members := make([]*Member, 0, len(p.members))
	for _, memberI := range p.members {
		members = append(members, &Member{
			MemberID: memberI.memberID,
			MetaData: slices.Clone(memberI.metaData),
		})
	}

	slices.SortFunc(members, func(a, b *Member) int {
		return strings.Compare(a.MemberID, b.MemberID)
	})

	return &Snapshot{
		Revision: []uint64{p.revision},
		Members:  members,
	}
}

// signalUpdatedLocked queues the new snapshot for every watcher.  Watchers
// drain their queue from their own goroutine, so a slow reader never blocks
// the provider.
func (p *InProcProvider) signalUpdatedLocked() {
	if p.revision > 0 {
		p.revision++
	}

	newSnap := p.getSnapLocked()

	for _, watcher := range p.watchers {
		watcher.signals = append(watcher.signals, newSnap)

		select {
		case watcher.wakeCh <- struct{}{}:
		default:
		}
	}
}

func (p *InProcProvider) removeMemberLocked(m *inProcMembership) bool {
	memberIdx := slices.Index(p.members, m)
	if memberIdx == -1 {
		return false
	}

	p.members = slices.Delete(p.members, memberIdx, memberIdx+1)

	return true
}

func (p *InProcProvider) removeWatcherLocked(w *inProcWatcher) bool {
	watcherIdx := slices.Index(p.watchers, w)
	if watcherIdx == -1 {
		return false
	}

	p.watchers = slices.Delete(p.watchers, watcherIdx, watcherIdx+1)

	return true
}

func (p *InProcProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	m := &inProcMembership{
		parent:   p,
		memberID: memberID,
		metaData: slices.Clone(metaData),
	}

	p.lock.Lock()
	p.members = append(p.members, m)
	p.signalUpdatedLocked()
	p.lock.Unlock()

	return m, nil
}

func (m *inProcMembership) UpdateMetaData(ctx context.Context, metaData []byte) error {
	metaData = slices.Clone(metaData)

	m.parent.lock.Lock()
	defer m.parent.lock.Unlock()

	if slices.Index(m.parent.members, m) == -1 {
		return ErrAlreadyLeft
	}

	m.metaData = metaData
	m.parent.signalUpdatedLocked()

	return nil
}

func (m *inProcMembership) Leave(ctx context.Context) error {
	m.parent.lock.Lock()
	defer m.parent.lock.Unlock()

	if !m.parent.removeMemberLocked(m) {
		return ErrAlreadyLeft
	}

	m.parent.signalUpdatedLocked()

	return nil
}

func (p *InProcProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	watcher := &inProcWatcher{

		wakeCh: make(chan struct{}, 1),
	}

	p.lock.Lock()
	watcher.signals = append(watcher.signals, p.getSnapLocked())
	p.watchers = append(p.watchers, watcher)
	p.lock.Unlock()

	// the goroutine below is the only writer to the output which guarantees
	// that snapshots are delivered in the order they were taken.
	outputCh := make(chan *Snapshot)
	go func() {
		defer close(outputCh)

	MainLoop:
		for {
			p.lock.Lock()
			pending := watcher.signals
			watcher.signals = nil
			p.lock.Unlock()

			for _, snap := range pending {
				select {
				case outputCh <- snap:
				case <-ctx.Done():
					break MainLoop
				}
			}

			select {
			case <-watcher.wakeCh:
			case <-ctx.Done():
				break MainLoop
			}
		}

		p.lock.Lock()
		p.removeWatcherLocked(watcher)
		p.lock.Unlock()
	}()

	return outputCh, nil
}

func (p *InProcProvider) Get(ctx context.Context) (*Snapshot, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.getSnapLocked(), nil
}
