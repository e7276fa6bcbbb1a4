// Package supervisor runs the periodic health scan that restarts
// instances whose container the runtime itself failed to keep alive.
//
// Grounded on original_source/src/hp_manager.cpp's periodic health-check
// loop and pkg/worker/health_monitor.go's ticker/select shape, adapted to
// poll in short increments so shutdown stays responsive between 60s scans.
package supervisor

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/evernode/sashimono-agent/pkg/container"
	"github.com/evernode/sashimono-agent/pkg/salog"
	"github.com/evernode/sashimono-agent/pkg/types"
)

// ScanInterval is the period between health scans.
const ScanInterval = 60 * time.Second

// sleepStep bounds how long the loop blocks between checking ctx.Done,
// keeping shutdown responsive per the concurrency model's ≤100ms note.
const sleepStep = 100 * time.Millisecond

// Store is the subset of pkg/store's API the supervisor depends on.
type Store interface {
	RunningInstances() ([]types.Instance, error)
}

// ContainerDriver is the subset of pkg/container's API the supervisor
// depends on.
type ContainerDriver interface {
	Inspect(ctx context.Context, uid int, id string) (container.Status, error)
}

// InstanceManager is the subset of pkg/instance's API the supervisor
// depends on.
type InstanceManager interface {
	RestartRunning(ctx context.Context, rec types.Instance) error
}

// Supervisor periodically reconciles recorded-running instances against
// what the container runtime actually reports, restarting or marking
// exited as needed.
type Supervisor struct {
	store      Store
	containers ContainerDriver
	manager    InstanceManager
	lookupUID  func(username string) (int, error)
	interval   time.Duration
}

// New constructs a Supervisor. lookupUID resolves a username to the uid
// Inspect needs to reach that user's docker socket.
func New(store Store, containers ContainerDriver, manager InstanceManager, lookupUID func(string) (int, error)) *Supervisor {
	return &Supervisor{
		store:      store,
		containers: containers,
		manager:    manager,
		lookupUID:  lookupUID,
		interval:   ScanInterval,
	}
}

// LookupUID resolves a host Linux username to its numeric uid via the
// system's user database. This is the production lookupUID passed to New
// by cmd/sagent; tests substitute a fake.
func LookupUID(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, fmt.Errorf("supervisor: lookup user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("supervisor: parse uid for %s: %w", username, err)
	}
	return uid, nil
}

// Run blocks, scanning every interval until ctx is cancelled. Sleeps
// between scans in sleepStep increments so cancellation is noticed
// promptly rather than after a full scan period.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if err := s.sleepOrDone(ctx, s.interval); err != nil {
			return
		}
		s.scan(ctx)
	}
}

func (s *Supervisor) sleepOrDone(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepStep):
		}
	}
	return nil
}

func (s *Supervisor) scan(ctx context.Context) {
	running, err := s.store.RunningInstances()
	if err != nil {
		salog.Errorf("supervisor: list running instances: %v", err)
		return
	}

	for _, rec := range running {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.checkOne(ctx, rec)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, rec types.Instance) {
	uid, err := s.lookupUID(rec.Username)
	if err != nil {
		salog.Errorf("supervisor: resolve uid for %s: %v", rec.ContainerName, err)
		return
	}

	status, err := s.containers.Inspect(ctx, uid, rec.ContainerName)
	if err == nil && status == container.StatusRunning {
		return
	}

	if err != nil {
		salog.Errorf("supervisor: inspect %s: %v", rec.ContainerName, err)
	} else {
		salog.Errorf("supervisor: %s observed status %s, attempting restart", rec.ContainerName, status)
	}

	if err := s.manager.RestartRunning(ctx, rec); err != nil {
		salog.Errorf("supervisor: restart %s failed, marked exited: %v", rec.ContainerName, err)
	}
}
