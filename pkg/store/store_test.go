package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernode/sashimono-agent/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sa.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInstance(name string, status types.Status, peer, user uint16) types.Instance {
	return types.Instance{
		ContainerName: name,
		OwnerPubkey:   "ed" + strings.Repeat("0", 64),
		ContractID:    "11111111-1111-4111-8111-111111111111",
		Pubkey:        "ed" + strings.Repeat("1", 64),
		IP:            "127.0.0.1",
		PeerPort:      peer,
		UserPort:      user,
		Status:        status,
		Username:      "sashi_0001",
		Image:         "evernode/sashimono:1",
		CreatedAt:     types.Now(),
	}
}

func TestInsertAndGetInstance(t *testing.T) {
	s := openTestStore(t)
	rec := sampleInstance("inst-1", types.StatusCreated, 22861, 8081)

	require.NoError(t, s.InsertInstance(rec))

	got, found, err := s.GetInstance("inst-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	_, found, err = s.GetInstance("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateStatus(t *testing.T) {
	s := openTestStore(t)
	rec := sampleInstance("inst-1", types.StatusCreated, 22861, 8081)
	require.NoError(t, s.InsertInstance(rec))

	require.NoError(t, s.UpdateStatus("inst-1", types.StatusRunning))

	got, _, err := s.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	err = s.UpdateStatus("no-such-instance", types.StatusRunning)
	assert.Error(t, err)
}

func TestMaxPortsExcludesDestroyed(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertInstance(sampleInstance("a", types.StatusRunning, 22861, 8081)))
	require.NoError(t, s.InsertInstance(sampleInstance("b", types.StatusRunning, 22865, 8085)))
	require.NoError(t, s.InsertInstance(sampleInstance("c", types.StatusDestroyed, 22999, 8999)))

	peer, user, err := s.MaxPorts()
	require.NoError(t, err)
	assert.Equal(t, uint16(22865), peer)
	assert.Equal(t, uint16(8085), user)
}

func TestMaxPortsEmptyTable(t *testing.T) {
	s := openTestStore(t)
	peer, user, err := s.MaxPorts()
	require.NoError(t, err)
	assert.Equal(t, uint16(0), peer)
	assert.Equal(t, uint16(0), user)
}

func TestVacantPorts(t *testing.T) {
	s := openTestStore(t)
	// a: destroyed, its ports are free.
	require.NoError(t, s.InsertInstance(sampleInstance("a", types.StatusDestroyed, 22861, 8081)))
	// b: destroyed but its user_port is reused by a non-destroyed row c, so not vacant.
	require.NoError(t, s.InsertInstance(sampleInstance("b", types.StatusDestroyed, 22862, 8082)))
	require.NoError(t, s.InsertInstance(sampleInstance("c", types.StatusRunning, 22900, 8082)))

	pairs, err := s.VacantPorts()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, types.PortPair{PeerPort: 22861, UserPort: 8081}, pairs[0])
}

func TestAllocatedCount(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertInstance(sampleInstance("a", types.StatusRunning, 22861, 8081)))
	require.NoError(t, s.InsertInstance(sampleInstance("b", types.StatusDestroyed, 22862, 8082)))

	n, err := s.AllocatedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunningInstances(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertInstance(sampleInstance("a", types.StatusRunning, 22861, 8081)))
	require.NoError(t, s.InsertInstance(sampleInstance("b", types.StatusStopped, 22862, 8082)))

	recs, err := s.RunningInstances()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ContainerName)
}

func TestLeaseUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	lease := types.Lease{ContainerName: "a", Timestamp: 100, CreatedOnLedger: 5000, LifeMoments: 2, TenantXRPAddress: "rTenant"}
	require.NoError(t, s.UpsertLease(lease))

	got, found, err := s.GetLease("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, lease, got)

	lease.LifeMoments = 5
	require.NoError(t, s.UpsertLease(lease))
	got, _, err = s.GetLease("a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.LifeMoments)
}

func TestLeases(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertLease(types.Lease{ContainerName: "a", Timestamp: 100, LifeMoments: 2}))
	require.NoError(t, s.UpsertLease(types.Lease{ContainerName: "b", Timestamp: 200, LifeMoments: 3}))

	leases, err := s.Leases()
	require.NoError(t, err)
	assert.Len(t, leases, 2)
}
