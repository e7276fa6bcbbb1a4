package instance

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernode/sashimono-agent/pkg/container"
	"github.com/evernode/sashimono-agent/pkg/contract"
	"github.com/evernode/sashimono-agent/pkg/ports"
	"github.com/evernode/sashimono-agent/pkg/provision"
	"github.com/evernode/sashimono-agent/pkg/types"
)

// --- fakes ---------------------------------------------------------------

type fakeStore struct {
	recs map[string]types.Instance
}

func newFakeStore() *fakeStore { return &fakeStore{recs: map[string]types.Instance{}} }

func (s *fakeStore) InsertInstance(rec types.Instance) error {
	s.recs[rec.ContainerName] = rec
	return nil
}
func (s *fakeStore) GetInstance(name string) (types.Instance, bool, error) {
	rec, ok := s.recs[name]
	return rec, ok, nil
}
func (s *fakeStore) UpdateStatus(name string, status types.Status) error {
	rec, ok := s.recs[name]
	if !ok {
		return errors.New("no such instance")
	}
	rec.Status = status
	s.recs[name] = rec
	return nil
}
func (s *fakeStore) AllocatedCount() (int, error) {
	n := 0
	for _, r := range s.recs {
		if r.Status != types.StatusDestroyed {
			n++
		}
	}
	return n, nil
}
func (s *fakeStore) ListInstances() ([]types.Instance, error) {
	var out []types.Instance
	for _, r := range s.recs {
		out = append(out, r)
	}
	return out, nil
}
func (s *fakeStore) RunningInstances() ([]types.Instance, error) {
	var out []types.Instance
	for _, r := range s.recs {
		if r.Status == types.StatusRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePortAllocator struct {
	next types.PortPair
}

func (a *fakePortAllocator) Allocate() (ports.Allocation, error) {
	pair := a.next
	a.next.PeerPort++
	a.next.UserPort++
	return ports.Allocation{Pair: pair}, nil
}
func (a *fakePortAllocator) Commit(ports.Allocation)  {}
func (a *fakePortAllocator) Abandon(ports.Allocation) {}
func (a *fakePortAllocator) Release(types.PortPair)   {}

type fakeProvisioner struct {
	installErr   error
	uninstallErr error
	uninstalled  []string
	nextUID      int
}

func (p *fakeProvisioner) Install(ctx context.Context, params provision.InstallParams) (provision.InstalledUser, error) {
	if p.installErr != nil {
		return provision.InstalledUser{}, p.installErr
	}
	p.nextUID++
	// Initiate, Start, Stop and Destroy resolve the instance user's uid with
	// user.Lookup, so the fake reports a user that exists on the test host.
	cur, err := user.Current()
	if err != nil {
		return provision.InstalledUser{}, err
	}
	return provision.InstalledUser{UID: p.nextUID, Username: cur.Username}, nil
}
func (p *fakeProvisioner) Uninstall(ctx context.Context, username string) error {
	p.uninstalled = append(p.uninstalled, username)
	return p.uninstallErr
}

type fakeContainerDriver struct {
	createErr error
	startErr  error
	stopErr   error
	removeErr error
}

func (d *fakeContainerDriver) Create(ctx context.Context, p container.CreateParams) (string, error) {
	if d.createErr != nil {
		return "", d.createErr
	}
	return "cid-" + p.Name, nil
}
func (d *fakeContainerDriver) Start(ctx context.Context, uid int, id string) error { return d.startErr }
func (d *fakeContainerDriver) Stop(ctx context.Context, uid int, id string) error  { return d.stopErr }
func (d *fakeContainerDriver) Remove(ctx context.Context, uid int, id string) error {
	return d.removeErr
}
func (d *fakeContainerDriver) Inspect(ctx context.Context, uid int, id string) (container.Status, error) {
	return container.StatusRunning, nil
}

type fakeFsServiceDriver struct {
	startErr error
	stopErr  error
	started  []string
	stopped  []string
}

func (f *fakeFsServiceDriver) Start(ctx context.Context, username string, uid int) error {
	f.started = append(f.started, username)
	return f.startErr
}
func (f *fakeFsServiceDriver) Stop(ctx context.Context, username string, uid int) error {
	f.stopped = append(f.stopped, username)
	return f.stopErr
}

// --- test harness ----------------------------------------------------------

type harness struct {
	mgr         *Manager
	store       *fakeStore
	portAlloc   *fakePortAllocator
	provisioner *fakeProvisioner
	containers  *fakeContainerDriver
	fsServices  *fakeFsServiceDriver
	homeDir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()

	h := &harness{
		store:       newFakeStore(),
		portAlloc:   &fakePortAllocator{next: types.PortPair{PeerPort: 22861, UserPort: 8081}},
		provisioner: &fakeProvisioner{},
		containers:  &fakeContainerDriver{},
		fsServices:  &fakeFsServiceDriver{},
		homeDir:     home,
	}

	materialize := func(p contract.Params) (contract.Result, error) {
		require.NoError(t, os.MkdirAll(filepath.Join(p.ContractDir, "cfg"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(p.ContractDir, "cfg", "hp.cfg"), []byte(`{"node":{"history":"full"},"hpfs":{"log":{"log_level":"err"}}}`), 0o644))
		return contract.Result{PublicKeyHex: "ed" + "11111111111111111111111111111111111111111111111111111111111111"[:64]}, nil
	}

	updateConf := func(username, hpfsLogLevel string, fullHistory bool) error { return nil }

	h.mgr = New(Config{
		MaxInstanceCount: 2,
		InitPeerPort:     22861,
		InitUserPort:     8081,
		TemplateDir:      t.TempDir(),
		HostAddress:      "127.0.0.1",
		HomeDirBase:      home,
		MaxCPUUs:         1000,
		MaxMemKbytes:     1000,
		MaxStorageKbytes: 1000,
	}, h.store, h.portAlloc, h.provisioner, materialize, h.containers, h.fsServices, updateConf)

	return h
}

const validOwnerPubkey = "ed0000000000000000000000000000000000000000000000000000000000000000"
const validContractID = "11111111-1111-4111-8111-111111111111"

// The contract dir's on-disk presence comes from the harness's fake
// materialize, which writes cfg/hp.cfg, so no extra plumbing is needed
// here; fakeContainerDriver.Create itself doesn't touch the filesystem.

func TestCreateHappyPath(t *testing.T) {
	h := newHarness(t)

	rec, err := h.mgr.Create(context.Background(), CreateParams{
		OwnerPubkey: validOwnerPubkey,
		ContractID:  validContractID,
		Image:       "evernode/sashimono:1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, rec.Status)
	assert.Equal(t, uint16(22861), rec.PeerPort)
	assert.Equal(t, uint16(8081), rec.UserPort)
	assert.Len(t, rec.ContainerName, 36)

	stored, found, err := h.store.GetInstance(rec.ContainerName)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, types.StatusCreated, stored.Status)
}

func TestCreateRejectsInvalidContractID(t *testing.T) {
	h := newHarness(t)

	_, err := h.mgr.Create(context.Background(), CreateParams{
		OwnerPubkey: validOwnerPubkey,
		ContractID:  "not-a-uuid",
		Image:       "evernode/sashimono:1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid uuid")
	assert.Empty(t, h.provisioner.uninstalled)
	var instErr *Error
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, KindBadRequest, instErr.Kind)
}

func TestCreateAtCapacityRejectsThird(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
		require.NoError(t, err)
	}

	_, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Max instance count")
	var instErr *Error
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, KindPreconditionFailed, instErr.Kind)
}

func TestCreateRollsBackUserOnContainerCreateFailure(t *testing.T) {
	h := newHarness(t)
	h.containers.createErr = errors.New("docker unavailable")

	_, err := h.mgr.Create(context.Background(), CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.Error(t, err)
	assert.Len(t, h.provisioner.uninstalled, 1)
}

func TestInitiateTransitionsToRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	full := "full"
	got, err := h.mgr.Initiate(ctx, InitiateParams{
		ContainerName: rec.ContainerName,
		Patch:         contract.ConfigPatch{Node: &contract.NodePatch{History: &full}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.Contains(t, h.fsServices.started, rec.Username)
}

func TestStartOnCreatedInstanceFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	_, err = h.mgr.Start(ctx, StartParams{ContainerName: rec.ContainerName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not stopped")
}

func TestStopOnCreatedInstanceFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	_, err = h.mgr.Stop(ctx, StopParams{ContainerName: rec.ContainerName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestFullLifecycleCreateInitiateStopStartDestroy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	_, err = h.mgr.Initiate(ctx, InitiateParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)

	_, err = h.mgr.Stop(ctx, StopParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)

	stored, _, _ := h.store.GetInstance(rec.ContainerName)
	assert.Equal(t, types.StatusStopped, stored.Status)

	_, err = h.mgr.Start(ctx, StartParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)

	_, err = h.mgr.Destroy(ctx, DestroyParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)

	stored, _, _ = h.store.GetInstance(rec.ContainerName)
	assert.Equal(t, types.StatusDestroyed, stored.Status)
	assert.Len(t, h.provisioner.uninstalled, 1)
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	_, err = h.mgr.Destroy(ctx, DestroyParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)
	assert.Len(t, h.provisioner.uninstalled, 1)

	_, err = h.mgr.Destroy(ctx, DestroyParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)
	assert.Len(t, h.provisioner.uninstalled, 1) // no second uninstall attempt
}

func TestStartOnNonexistentInstanceFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Start(context.Background(), StartParams{ContainerName: "does-not-exist"})
	require.Error(t, err)
	var instErr *Error
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, KindBadRequest, instErr.Kind)
}

func TestDestroyReleasesTheInstancesPortPair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	recorder := &recordingPortAllocator{fakePortAllocator: fakePortAllocator{next: types.PortPair{PeerPort: 22861, UserPort: 8081}}}
	h.mgr.portAlloc = recorder

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	_, err = h.mgr.Destroy(ctx, DestroyParams{ContainerName: rec.ContainerName})
	require.NoError(t, err)

	require.Len(t, recorder.released, 1)
	assert.Equal(t, rec.PeerPort, recorder.released[0].PeerPort)
	assert.Equal(t, rec.UserPort, recorder.released[0].UserPort)
}

func TestDestroyStillReachesDestroyedWhenUninstallFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	recorder := &recordingPortAllocator{fakePortAllocator: fakePortAllocator{next: types.PortPair{PeerPort: 22861, UserPort: 8081}}}
	h.mgr.portAlloc = recorder

	rec, err := h.mgr.Create(ctx, CreateParams{OwnerPubkey: validOwnerPubkey, ContractID: validContractID, Image: "img"})
	require.NoError(t, err)

	h.provisioner.uninstallErr = errors.New("uninstall boom")
	_, err = h.mgr.Destroy(ctx, DestroyParams{ContainerName: rec.ContainerName})
	require.Error(t, err)

	stored, found, getErr := h.store.GetInstance(rec.ContainerName)
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, types.StatusDestroyed, stored.Status)
	require.Len(t, recorder.released, 1)
}

type recordingPortAllocator struct {
	fakePortAllocator
	released []types.PortPair
}

func (r *recordingPortAllocator) Release(p types.PortPair) {
	r.released = append(r.released, p)
}
