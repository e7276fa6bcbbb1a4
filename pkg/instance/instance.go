// Package instance implements the InstanceManager state machine: create,
// initiate, destroy, start, stop, and the supervisor restart path, each
// with the precondition checks and rollback chains that keep a record's
// on-disk status truthful about its container and filesystem services.
//
// Grounded on original_source/src/hp_manager.cpp's request handlers
// (create_hp_instance, initiate_hp_instance, start/stop/destroy), wired
// to the sibling packages that replace its inline shell-outs: pkg/store,
// pkg/ports, pkg/provision, pkg/contract, pkg/container, pkg/fsservice.
package instance

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"sync"

	"github.com/evernode/sashimono-agent/pkg/container"
	"github.com/evernode/sashimono-agent/pkg/contract"
	"github.com/evernode/sashimono-agent/pkg/ports"
	"github.com/evernode/sashimono-agent/pkg/provision"
	"github.com/evernode/sashimono-agent/pkg/salog"
	"github.com/evernode/sashimono-agent/pkg/scrypto"
	"github.com/evernode/sashimono-agent/pkg/types"
)

const maxNameRetries = 10

// Store is the subset of pkg/store's API the manager depends on.
type Store interface {
	InsertInstance(rec types.Instance) error
	GetInstance(name string) (types.Instance, bool, error)
	UpdateStatus(name string, status types.Status) error
	AllocatedCount() (int, error)
	ListInstances() ([]types.Instance, error)
	RunningInstances() ([]types.Instance, error)
}

// PortAllocator is the subset of pkg/ports' API the manager depends on.
type PortAllocator interface {
	Allocate() (ports.Allocation, error)
	Commit(ports.Allocation)
	Abandon(ports.Allocation)
	Release(types.PortPair)
}

// Provisioner is the subset of pkg/provision's API the manager depends on.
type Provisioner interface {
	Install(ctx context.Context, params provision.InstallParams) (provision.InstalledUser, error)
	Uninstall(ctx context.Context, username string) error
}

// Materializer builds a contract directory. Matches contract.Materialize's
// signature so the real function can be used directly as a Manager field.
type Materializer func(p contract.Params) (contract.Result, error)

// ContainerDriver is the subset of pkg/container's API the manager depends
// on.
type ContainerDriver interface {
	Create(ctx context.Context, p container.CreateParams) (string, error)
	Start(ctx context.Context, uid int, id string) error
	Stop(ctx context.Context, uid int, id string) error
	Remove(ctx context.Context, uid int, id string) error
	Inspect(ctx context.Context, uid int, id string) (container.Status, error)
}

// FsServiceDriver is the subset of pkg/fsservice's API the manager depends
// on.
type FsServiceDriver interface {
	Start(ctx context.Context, username string, uid int) error
	Stop(ctx context.Context, username string, uid int) error
}

// UpdateServiceConf matches fsservice.UpdateServiceConf's signature.
type UpdateServiceConf func(username, hpfsLogLevel string, fullHistory bool) error

// Config carries the resource caps and filesystem layout the manager needs
// to create instances.
type Config struct {
	MaxInstanceCount int
	InitPeerPort     uint16
	InitUserPort     uint16
	TemplateDir      string
	HostAddress      string
	HomeDirBase      string // defaults to "/home" when empty

	MaxCPUUs         int64
	MaxMemKbytes     int64
	MaxStorageKbytes int64
}

// Manager is the InstanceManager: it serializes every lifecycle
// transition behind a mutex, per the concurrency model's "at most one
// transition in flight" requirement — the local socket's per-connection
// goroutines, the remote session's request handler, and the supervisor's
// restart path all share one Manager and call it concurrently, so the
// mutex (not caller discipline) is what keeps transitions from
// interleaving.
type Manager struct {
	cfg Config

	mu sync.Mutex

	store       Store
	portAlloc   PortAllocator
	provisioner Provisioner
	materialize Materializer
	containers  ContainerDriver
	fsServices  FsServiceDriver
	updateConf  UpdateServiceConf
}

// New constructs a Manager from its collaborators.
func New(cfg Config, store Store, portAlloc PortAllocator, provisioner Provisioner,
	materialize Materializer, containers ContainerDriver, fsServices FsServiceDriver,
	updateConf UpdateServiceConf) *Manager {
	if cfg.HomeDirBase == "" {
		cfg.HomeDirBase = "/home"
	}
	return &Manager{
		cfg:         cfg,
		store:       store,
		portAlloc:   portAlloc,
		provisioner: provisioner,
		materialize: materialize,
		containers:  containers,
		fsServices:  fsServices,
		updateConf:  updateConf,
	}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	OwnerPubkey string
	ContractID  string
	Image       string
}

func (m *Manager) contractDir(username, containerName string) string {
	return fmt.Sprintf("%s/%s/%s", m.cfg.HomeDirBase, username, containerName)
}

// Create provisions a new instance: a host user, a materialized contract
// directory, and a created-but-not-started container. On success the
// record is inserted with status "created".
func (m *Manager) Create(ctx context.Context, p CreateParams) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := scrypto.VerifyPubkeyFormat(p.OwnerPubkey); err != nil {
		return types.Instance{}, badRequest("owner_pubkey is not a valid pubkey", err)
	}
	if !scrypto.VerifyUUID(p.ContractID) {
		return types.Instance{}, badRequest("contract_id is not a valid uuid", nil)
	}
	if p.Image == "" {
		return types.Instance{}, badRequest("image is required", nil)
	}

	count, err := m.store.AllocatedCount()
	if err != nil {
		return types.Instance{}, persistence("read allocated count", err)
	}
	if count >= m.cfg.MaxInstanceCount {
		return types.Instance{}, precondition("Max instance count reached")
	}

	name, err := m.uniqueName()
	if err != nil {
		return types.Instance{}, err
	}

	alloc, err := m.portAlloc.Allocate()
	if err != nil {
		return types.Instance{}, resourceExhausted("allocate port pair", err)
	}

	budget := m.cfg.MaxInstanceCount
	if budget == 0 {
		budget = 1
	}
	installed, err := m.provisioner.Install(ctx, provision.InstallParams{
		MaxCPUUs:      m.cfg.MaxCPUUs / int64(budget),
		MaxMemKbytes:  m.cfg.MaxMemKbytes / int64(budget),
		StorageKbytes: m.cfg.MaxStorageKbytes / int64(budget),
		ContainerName: name,
		ContractUID:   10000,
		ContractGID:   10000,
	})
	if err != nil {
		m.portAlloc.Abandon(alloc)
		return types.Instance{}, external("install instance user", err)
	}

	dir := m.contractDir(installed.Username, name)
	result, err := m.materialize(contract.Params{
		Username:    installed.Username,
		OwnerPubkey: p.OwnerPubkey,
		ContractID:  p.ContractID,
		TemplateDir: m.cfg.TemplateDir,
		ContractDir: dir,
		Ports:       alloc.Pair,
	})
	if err != nil {
		m.provisioner.Uninstall(ctx, installed.Username)
		m.portAlloc.Abandon(alloc)
		return types.Instance{}, resourceExhausted("materialize contract", err)
	}

	containerID, err := m.containers.Create(ctx, container.CreateParams{
		UID:         installed.UID,
		Username:    installed.Username,
		Image:       p.Image,
		Name:        name,
		ContractDir: dir,
		PeerPort:    alloc.Pair.PeerPort,
		UserPort:    alloc.Pair.UserPort,
	})
	if err != nil {
		m.provisioner.Uninstall(ctx, installed.Username)
		m.portAlloc.Abandon(alloc)
		return types.Instance{}, external("create container", err)
	}
	_ = containerID // the container name is the lookup key; docker's internal ID isn't persisted

	rec := types.Instance{
		ContainerName: name,
		OwnerPubkey:   p.OwnerPubkey,
		ContractID:    p.ContractID,
		Pubkey:        result.PublicKeyHex,
		IP:            m.cfg.HostAddress,
		PeerPort:      alloc.Pair.PeerPort,
		UserPort:      alloc.Pair.UserPort,
		Status:        types.StatusCreated,
		Username:      installed.Username,
		Image:         p.Image,
		CreatedAt:     types.Now(),
	}

	if err := m.store.InsertInstance(rec); err != nil {
		if rmErr := m.containers.Remove(ctx, installed.UID, name); rmErr != nil {
			salog.Errorf("instance: rollback remove container %s after insert failure: %v", name, rmErr)
		}
		m.provisioner.Uninstall(ctx, installed.Username)
		m.portAlloc.Abandon(alloc)
		return types.Instance{}, persistence("insert instance record", err)
	}

	m.portAlloc.Commit(alloc)
	return rec, nil
}

func (m *Manager) uniqueName() (string, error) {
	for i := 0; i < maxNameRetries; i++ {
		name := scrypto.GenerateUUID()
		_, found, err := m.store.GetInstance(name)
		if err != nil {
			return "", persistence("check name uniqueness", err)
		}
		if !found {
			return name, nil
		}
	}
	return "", precondition(fmt.Sprintf("could not generate a unique container name after %d attempts", maxNameRetries))
}

// InitiateParams are the inputs to Initiate.
type InitiateParams struct {
	ContainerName string
	Patch         contract.ConfigPatch
}

// Initiate patches a created instance's config, starts its filesystem
// services, and starts its container, transitioning it to "running".
func (m *Manager) Initiate(ctx context.Context, p InitiateParams) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := contract.ValidatePatch(p.Patch); err != nil {
		return types.Instance{}, badRequest(err.Error(), err)
	}

	rec, found, err := m.store.GetInstance(p.ContainerName)
	if err != nil {
		return types.Instance{}, persistence("read instance", err)
	}
	if !found {
		return types.Instance{}, badRequest(fmt.Sprintf("no such instance %s", p.ContainerName), nil)
	}
	if rec.Status != types.StatusCreated {
		return types.Instance{}, precondition(fmt.Sprintf("instance %s is not created (status=%s)", rec.ContainerName, rec.Status))
	}

	return m.runUp(ctx, rec, p.Patch, types.StatusCreated)
}

// StartParams are the inputs to Start.
type StartParams struct {
	ContainerName string
}

// Start resumes a stopped (or supervisor-exited) instance without
// touching its config, reconfiguring and starting its filesystem services
// and container, transitioning it to "running".
func (m *Manager) Start(ctx context.Context, p StartParams) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found, err := m.store.GetInstance(p.ContainerName)
	if err != nil {
		return types.Instance{}, persistence("read instance", err)
	}
	if !found {
		return types.Instance{}, badRequest(fmt.Sprintf("no such instance %s", p.ContainerName), nil)
	}
	if rec.Status != types.StatusStopped && rec.Status != types.StatusExited {
		return types.Instance{}, precondition(fmt.Sprintf("instance %s is not stopped (status=%s)", rec.ContainerName, rec.Status))
	}

	return m.runUp(ctx, rec, contract.ConfigPatch{}, rec.Status)
}

// runUp is the shared initiate/start sequence: patch config (a no-op
// patch for start), derive fs-service settings from the on-disk config,
// start fs services then the container, and persist the new status. It
// rolls back fs services if the container fails to start, and rolls back
// both if the Store update fails.
func (m *Manager) runUp(ctx context.Context, rec types.Instance, patch contract.ConfigPatch, fromStatus types.Status) (types.Instance, error) {
	dir := m.contractDir(rec.Username, rec.ContainerName)
	cfgPath := dir + "/cfg/hp.cfg"

	doc, err := contract.ReadConfigDoc(cfgPath)
	if err != nil {
		return types.Instance{}, resourceExhausted("read contract config", err)
	}
	contract.ApplyPatch(doc, patch)
	if err := contract.WriteConfigDoc(cfgPath, doc); err != nil {
		return types.Instance{}, resourceExhausted("write contract config", err)
	}

	uid, err := lookupUID(rec.Username)
	if err != nil {
		return types.Instance{}, external("resolve instance user", err)
	}

	historyMode := contract.HistoryMode(doc)
	hpfsLogLevel := contract.HpfsLogLevel(doc)
	if err := m.updateConf(rec.Username, hpfsLogLevel, historyMode == "full"); err != nil {
		return types.Instance{}, external("update fs service conf", err)
	}

	if err := m.fsServices.Start(ctx, rec.Username, uid); err != nil {
		return types.Instance{}, external("start fs services", err)
	}

	if err := m.containers.Start(ctx, uid, rec.ContainerName); err != nil {
		if stopErr := m.fsServices.Stop(ctx, rec.Username, uid); stopErr != nil {
			salog.Errorf("instance: rollback stop fs services for %s: %v", rec.ContainerName, stopErr)
		}
		return types.Instance{}, external("start container", err)
	}

	if err := m.store.UpdateStatus(rec.ContainerName, types.StatusRunning); err != nil {
		if stopErr := m.containers.Stop(ctx, uid, rec.ContainerName); stopErr != nil {
			salog.Errorf("instance: rollback stop container for %s: %v", rec.ContainerName, stopErr)
		}
		if stopErr := m.fsServices.Stop(ctx, rec.Username, uid); stopErr != nil {
			salog.Errorf("instance: rollback stop fs services for %s: %v", rec.ContainerName, stopErr)
		}
		return types.Instance{}, persistence("update instance status", err)
	}

	rec.Status = types.StatusRunning
	return rec, nil
}

// StopParams are the inputs to Stop.
type StopParams struct {
	ContainerName string
}

// Stop halts a running instance's container and filesystem services,
// leaving its host user and contract directory intact.
func (m *Manager) Stop(ctx context.Context, p StopParams) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found, err := m.store.GetInstance(p.ContainerName)
	if err != nil {
		return types.Instance{}, persistence("read instance", err)
	}
	if !found {
		return types.Instance{}, badRequest(fmt.Sprintf("no such instance %s", p.ContainerName), nil)
	}
	if rec.Status != types.StatusRunning {
		return types.Instance{}, precondition(fmt.Sprintf("instance %s is not running (status=%s)", rec.ContainerName, rec.Status))
	}

	uid, err := lookupUID(rec.Username)
	if err != nil {
		return types.Instance{}, external("resolve instance user", err)
	}

	if err := m.containers.Stop(ctx, uid, rec.ContainerName); err != nil {
		return types.Instance{}, external("stop container", err)
	}
	if err := m.fsServices.Stop(ctx, rec.Username, uid); err != nil {
		return types.Instance{}, external("stop fs services", err)
	}
	if err := m.store.UpdateStatus(rec.ContainerName, types.StatusStopped); err != nil {
		return types.Instance{}, persistence("update instance status", err)
	}

	rec.Status = types.StatusStopped
	return rec, nil
}

// DestroyParams are the inputs to Destroy.
type DestroyParams struct {
	ContainerName string
}

// Destroy removes an instance's container, uninstalls its host user, and
// releases its port pair for reuse. Idempotent at the status level: a
// second destroy on an already-destroyed record succeeds without
// attempting a second uninstall.
func (m *Manager) Destroy(ctx context.Context, p DestroyParams) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found, err := m.store.GetInstance(p.ContainerName)
	if err != nil {
		return types.Instance{}, persistence("read instance", err)
	}
	if !found {
		return types.Instance{}, badRequest(fmt.Sprintf("no such instance %s", p.ContainerName), nil)
	}
	if rec.Status == types.StatusDestroyed {
		return rec, nil
	}

	uid, err := lookupUID(rec.Username)
	if err != nil {
		return types.Instance{}, external("resolve instance user", err)
	}

	if err := m.containers.Remove(ctx, uid, rec.ContainerName); err != nil && !container.IsNotFound(err) {
		salog.Errorf("instance: remove container for %s: %v", rec.ContainerName, err)
	}

	// User uninstall failure is fatal to the request, but the store update
	// and port release below must still happen so the record reaches
	// "destroyed" and its ports are reclaimed even when uninstall fails.
	uninstallErr := m.provisioner.Uninstall(ctx, rec.Username)

	if err := m.store.UpdateStatus(rec.ContainerName, types.StatusDestroyed); err != nil {
		return types.Instance{}, persistence("update instance status", err)
	}
	m.portAlloc.Release(types.PortPair{PeerPort: rec.PeerPort, UserPort: rec.UserPort})
	rec.Status = types.StatusDestroyed

	if uninstallErr != nil {
		return rec, external("uninstall instance user", uninstallErr)
	}
	return rec, nil
}

// Get fetches a single instance record.
func (m *Manager) Get(name string) (types.Instance, bool, error) {
	rec, found, err := m.store.GetInstance(name)
	if err != nil {
		return types.Instance{}, false, persistence("read instance", err)
	}
	return rec, found, nil
}

// List returns every instance record.
func (m *Manager) List() ([]types.Instance, error) {
	recs, err := m.store.ListInstances()
	if err != nil {
		return nil, persistence("list instances", err)
	}
	return recs, nil
}

// RestartRunning is the supervisor's recovery path: it attempts to
// restart a container whose runtime status no longer matches the
// "running" record, leaving status "running" on success or marking it
// "exited" on failure. Per the open-question resolution in SPEC_FULL.md,
// the supervisor never restarts an instance already marked "exited" —
// only an explicit Start does.
func (m *Manager) RestartRunning(ctx context.Context, rec types.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Status != types.StatusRunning {
		return precondition(fmt.Sprintf("instance %s is not running (status=%s)", rec.ContainerName, rec.Status))
	}

	uid, err := lookupUID(rec.Username)
	if err != nil {
		if updErr := m.store.UpdateStatus(rec.ContainerName, types.StatusExited); updErr != nil {
			return persistence("mark instance exited", updErr)
		}
		return external("resolve instance user", err)
	}

	if err := m.containers.Start(ctx, uid, rec.ContainerName); err != nil {
		if updErr := m.store.UpdateStatus(rec.ContainerName, types.StatusExited); updErr != nil {
			return persistence("mark instance exited", updErr)
		}
		return external("restart container", err)
	}
	return nil
}

func lookupUID(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, fmt.Errorf("instance: lookup user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("instance: parse uid for %s: %w", username, err)
	}
	return uid, nil
}
