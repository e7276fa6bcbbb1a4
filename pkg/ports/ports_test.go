package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernode/sashimono-agent/pkg/types"
)

type fakeStore struct {
	vacant   []types.PortPair
	maxPeer  uint16
	maxUser  uint16
}

func (f *fakeStore) VacantPorts() ([]types.PortPair, error) {
	return f.vacant, nil
}

func (f *fakeStore) MaxPorts() (uint16, uint16, error) {
	return f.maxPeer, f.maxUser, nil
}

func TestAllocateFromEmptyStoreUsesInitPorts(t *testing.T) {
	a, err := New(&fakeStore{}, 22860, 8080)
	require.NoError(t, err)

	alloc, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.PortPair{PeerPort: 22860, UserPort: 8080}, alloc.Pair)
}

func TestAllocateCounterIncrementsAfterCommit(t *testing.T) {
	a, err := New(&fakeStore{}, 22860, 8080)
	require.NoError(t, err)

	first, err := a.Allocate()
	require.NoError(t, err)
	a.Commit(first)

	second, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.PortPair{PeerPort: 22861, UserPort: 8081}, second.Pair)
}

func TestAllocatePrefersVacantStack(t *testing.T) {
	vacant := types.PortPair{PeerPort: 22861, UserPort: 8081}
	a, err := New(&fakeStore{vacant: []types.PortPair{vacant}, maxPeer: 22870, maxUser: 8090}, 22860, 8080)
	require.NoError(t, err)

	alloc, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, vacant, alloc.Pair)
}

func TestReleaseThenReallocate(t *testing.T) {
	a, err := New(&fakeStore{maxPeer: 22861, maxUser: 8081}, 22860, 8080)
	require.NoError(t, err)

	pair := types.PortPair{PeerPort: 22861, UserPort: 8081}
	a.Release(pair)

	alloc, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, pair, alloc.Pair)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a, err := New(&fakeStore{}, 22860, 8080)
	require.NoError(t, err)

	pair := types.PortPair{PeerPort: 22861, UserPort: 8081}
	a.Release(pair)
	a.Release(pair)

	assert.Len(t, a.vacant, 1)
}

func TestAbandonReturnsPairToPool(t *testing.T) {
	a, err := New(&fakeStore{}, 22860, 8080)
	require.NoError(t, err)

	alloc, err := a.Allocate()
	require.NoError(t, err)
	a.Abandon(alloc)

	next, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, alloc.Pair, next.Pair)
}
