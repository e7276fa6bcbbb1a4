// Package ports implements the port allocator: it hands out (peer_port,
// user_port) pairs for new instances, reusing pairs reclaimed from
// destroyed instances before falling back to a monotonic counter.
//
// Grounded on original_source/src/hp_manager.cpp's port-allocation section
// and original_source/src/sqlite.cpp's get_max_ports/get_vacant_ports. Pure
// in-memory bookkeeping; no third-party library fits an algorithm this
// small and stateful, so it rests on the standard library alone.
package ports

import (
	"fmt"
	"sync"

	"github.com/evernode/sashimono-agent/pkg/types"
)

// PortSource is the subset of the store the allocator needs at startup and
// on the counter-refresh path.
type PortSource interface {
	VacantPorts() ([]types.PortPair, error)
	MaxPorts() (peerPort, userPort uint16, err error)
}

// Allocator tracks the transient port-allocation state described in the
// data model: the vacant stack, the last assigned pair, and the tie-break
// flag forcing a fresh counter refresh.
type Allocator struct {
	mu sync.Mutex

	store PortSource

	initPeerPort uint16
	initUserPort uint16

	vacant               []types.PortPair
	lastAssigned         types.PortPair
	lastAssignFromVacant bool
}

// New constructs an Allocator and loads the vacant stack from store.
func New(store PortSource, initPeerPort, initUserPort uint16) (*Allocator, error) {
	vacant, err := store.VacantPorts()
	if err != nil {
		return nil, fmt.Errorf("ports: load vacant ports: %w", err)
	}
	return &Allocator{
		store:                store,
		initPeerPort:         initPeerPort,
		initUserPort:         initUserPort,
		vacant:               vacant,
		lastAssignFromVacant: true,
	}, nil
}

// Allocation is a port pair pending commit: the caller must call Commit on
// success or Abandon on failure so the allocator's counter-branch state
// stays correct.
type Allocation struct {
	Pair      types.PortPair
	fromVacant bool
}

// Allocate returns the next port pair to hand to a new instance, per the
// vacant-stack-then-counter algorithm.
func (a *Allocator) Allocate() (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.vacant); n > 0 {
		pair := a.vacant[n-1]
		a.vacant = a.vacant[:n-1]
		a.lastAssignFromVacant = true
		return Allocation{Pair: pair, fromVacant: true}, nil
	}

	if a.lastAssignFromVacant {
		peer, user, err := a.store.MaxPorts()
		if err != nil {
			return Allocation{}, fmt.Errorf("ports: refresh max ports: %w", err)
		}
		if peer == 0 || user == 0 {
			peer, user = a.initPeerPort-1, a.initUserPort-1
		}
		a.lastAssigned = types.PortPair{PeerPort: peer, UserPort: user}
		a.lastAssignFromVacant = false
	}

	next := types.PortPair{
		PeerPort: a.lastAssigned.PeerPort + 1,
		UserPort: a.lastAssigned.UserPort + 1,
	}
	return Allocation{Pair: next, fromVacant: false}, nil
}

// Commit finalizes a successful allocation. For counter-branch allocations
// this advances the in-memory high-water mark so the next Allocate call
// continues from here without another store round trip.
func (a *Allocator) Commit(alloc Allocation) {
	if alloc.fromVacant {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastAssigned = alloc.Pair
}

// Abandon returns an allocation to the pool after a failed instance
// creation, so the pair isn't lost for the lifetime of the process.
func (a *Allocator) Abandon(alloc Allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vacant = append(a.vacant, alloc.Pair)
}

// Release returns a pair to the vacant stack after a successful destroy,
// if it isn't already present.
func (a *Allocator) Release(pair types.PortPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.vacant {
		if p == pair {
			return
		}
	}
	a.vacant = append(a.vacant, pair)
}
