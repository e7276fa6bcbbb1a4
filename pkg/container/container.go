// Package container drives the container runtime reachable at a per-user
// docker.sock. Every call constructs a fresh client scoped to that user's
// socket and negotiates the API version, rather than holding one
// long-lived client the way a multi-tenant agent can't.
//
// Grounded on jesseduffield-lazydocker/pkg/commands/docker.go (client
// construction) and container.go (Remove/Stop/Inspect shapes), using the
// real github.com/docker/docker client SDK rather than shelling out.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// CreateParams are the inputs to Create.
type CreateParams struct {
	UID         int
	Username    string
	Image       string
	Name        string
	ContractDir string
	PeerPort    uint16
	UserPort    uint16
}

// Driver talks to a user's Docker daemon socket.
type Driver struct{}

// New constructs a Driver. There is no shared client state: each operation
// dials the target user's socket fresh, since the agent spans many users.
func New() *Driver {
	return &Driver{}
}

func dockerHost(uid int) string {
	return fmt.Sprintf("unix:///run/user/%d/docker.sock", uid)
}

func newClient(uid int) (*client.Client, error) {
	return client.NewClientWithOpts(
		client.WithHost(dockerHost(uid)),
		client.WithAPIVersionNegotiation(),
	)
}

// Create makes (but does not start) a container that mounts ContractDir at
// /contract, publishes PeerPort and UserPort 1:1, stops on SIGINT, and
// restarts unless explicitly stopped.
func (d *Driver) Create(ctx context.Context, p CreateParams) (string, error) {
	cli, err := newClient(p.UID)
	if err != nil {
		return "", fmt.Errorf("container: dial docker host for %s: %w", p.Username, err)
	}
	defer cli.Close()

	peer := nat.Port(fmt.Sprintf("%d/tcp", p.PeerPort))
	user := nat.Port(fmt.Sprintf("%d/tcp", p.UserPort))

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: p.ContractDir, Target: "/contract"},
		},
		PortBindings: nat.PortMap{
			peer: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p.PeerPort)}},
			user: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p.UserPort)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	containerCfg := &container.Config{
		Image: p.Image,
		ExposedPorts: nat.PortSet{
			peer: struct{}{},
			user: struct{}{},
		},
		StopSignal: "SIGINT",
	}

	resp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, p.Name)
	if err != nil {
		return "", fmt.Errorf("container: create %s: %w", p.Name, err)
	}
	return resp.ID, nil
}

// Start starts an existing container.
func (d *Driver) Start(ctx context.Context, uid int, id string) error {
	cli, err := newClient(uid)
	if err != nil {
		return fmt.Errorf("container: dial docker host: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container: start %s: %w", id, err)
	}
	return nil
}

// Stop stops a running container, giving it up to 30s to exit gracefully
// on SIGINT before the runtime kills it.
func (d *Driver) Stop(ctx context.Context, uid int, id string) error {
	cli, err := newClient(uid)
	if err != nil {
		return fmt.Errorf("container: dial docker host: %w", err)
	}
	defer cli.Close()

	timeout := 30
	if err := cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container: stop %s: %w", id, err)
	}
	return nil
}

// Remove force-removes a container regardless of its run state.
func (d *Driver) Remove(ctx context.Context, uid int, id string) error {
	cli, err := newClient(uid)
	if err != nil {
		return fmt.Errorf("container: dial docker host: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container: remove %s: %w", id, err)
	}
	return nil
}

// Status is the observed runtime state of a container, as reported by
// Inspect's .State.Status.
type Status string

const (
	StatusRunning    Status = "running"
	StatusExited     Status = "exited"
	StatusCreated    Status = "created"
	StatusRestarting Status = "restarting"
	StatusPaused     Status = "paused"
	StatusDead       Status = "dead"
	StatusUnknown    Status = "unknown"
)

// Inspect returns the container's current status. A not-found container is
// reported through the returned error, checkable with client.IsErrNotFound.
func (d *Driver) Inspect(ctx context.Context, uid int, id string) (Status, error) {
	cli, err := newClient(uid)
	if err != nil {
		return StatusUnknown, fmt.Errorf("container: dial docker host: %w", err)
	}
	defer cli.Close()

	info, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return StatusUnknown, err
	}
	if info.State == nil {
		return StatusUnknown, nil
	}
	return Status(info.State.Status), nil
}

// IsNotFound reports whether err is Docker's "no such container" error.
func IsNotFound(err error) bool {
	return client.IsErrNotFound(err)
}

// defaultCallTimeout bounds individual Docker API calls issued by callers
// that don't already carry a deadline (e.g. the Supervisor's poll loop).
const defaultCallTimeout = 10 * time.Second

// WithCallTimeout derives a context bounded by defaultCallTimeout when the
// parent carries no deadline of its own.
func WithCallTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, defaultCallTimeout)
}
