package remote

import (
	"context"

	"github.com/evernode/sashimono-agent/pkg/instance"
	"github.com/evernode/sashimono-agent/pkg/msg"
	"github.com/evernode/sashimono-agent/pkg/types"
)

// Dispatcher is the subset of InstanceManager's API a request handler
// needs; pkg/instance.Manager satisfies it (Manager's RestartRunning is
// not part of it).
type Dispatcher interface {
	Create(ctx context.Context, p instance.CreateParams) (types.Instance, error)
	Initiate(ctx context.Context, p instance.InitiateParams) (types.Instance, error)
	Start(ctx context.Context, p instance.StartParams) (types.Instance, error)
	Stop(ctx context.Context, p instance.StopParams) (types.Instance, error)
	Destroy(ctx context.Context, p instance.DestroyParams) (types.Instance, error)
	Get(name string) (types.Instance, bool, error)
	List() ([]types.Instance, error)
}

// LeaseLister optionally supplies lease metadata to join into list_res
// entries. A nil LeaseLister simply yields no lease fields.
type LeaseLister interface {
	Leases() ([]types.Lease, error)
}

// HandleRequest parses one raw request payload, dispatches it to mgr, and
// returns the raw response payload to send back. It is shared by
// RemoteSession's request handler and, via cmd/sagent wiring, the local
// control socket, so the two transports apply identical request semantics.
func HandleRequest(ctx context.Context, mgr Dispatcher, leases LeaseLister, data []byte) []byte {
	typ, err := msg.ParseType(data)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}

	switch typ {
	case msg.TypeCreate:
		return handleCreate(ctx, mgr, data)
	case msg.TypeInitiate:
		return handleInitiate(ctx, mgr, data)
	case msg.TypeStart:
		return handleStart(ctx, mgr, data)
	case msg.TypeStop:
		return handleStop(ctx, mgr, data)
	case msg.TypeDestroy:
		return handleDestroy(ctx, mgr, data)
	case msg.TypeInspect:
		return handleInspect(mgr, data)
	case msg.TypeList:
		return handleList(mgr, leases, data)
	default:
		return mustBuild(msg.BuildError("unrecognized message type: " + typ))
	}
}

func handleCreate(ctx context.Context, mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseCreate(data)
	if err != nil {
		return mustBuild(msg.BuildCreateError(err.Error()))
	}
	rec, err := mgr.Create(ctx, instance.CreateParams{OwnerPubkey: req.OwnerPubkey, ContractID: req.ContractID, Image: req.Image})
	if err != nil {
		return mustBuild(msg.BuildCreateError(err.Error()))
	}
	resp, err := msg.BuildCreateResponse(rec)
	if err != nil {
		return mustBuild(msg.BuildCreateError(err.Error()))
	}
	return resp
}

func handleInitiate(ctx context.Context, mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseInitiate(data)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	if _, err := mgr.Initiate(ctx, instance.InitiateParams{ContainerName: req.ContainerName, Patch: req.Config}); err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	return mustBuild(msg.BuildInitiateRes("Initiated"))
}

func handleStart(ctx context.Context, mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseStart(data)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	if _, err := mgr.Start(ctx, instance.StartParams{ContainerName: req.ContainerName}); err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	return mustBuild(msg.BuildStartRes("Started"))
}

func handleStop(ctx context.Context, mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseStop(data)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	if _, err := mgr.Stop(ctx, instance.StopParams{ContainerName: req.ContainerName}); err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	return mustBuild(msg.BuildStopRes("Stopped"))
}

func handleDestroy(ctx context.Context, mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseDestroy(data)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	if _, err := mgr.Destroy(ctx, instance.DestroyParams{ContainerName: req.ContainerName}); err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	return mustBuild(msg.BuildDestroyRes("Destroyed"))
}

func handleInspect(mgr Dispatcher, data []byte) []byte {
	req, err := msg.ParseInspect(data)
	if err != nil {
		return mustBuild(msg.BuildInspectError(err.Error()))
	}
	rec, ok, err := mgr.Get(req.ContainerName)
	if err != nil {
		return mustBuild(msg.BuildInspectError(err.Error()))
	}
	if !ok {
		return mustBuild(msg.BuildInspectError("no such instance: " + req.ContainerName))
	}
	resp, err := msg.BuildInspectResponse(rec)
	if err != nil {
		return mustBuild(msg.BuildInspectError(err.Error()))
	}
	return resp
}

func handleList(mgr Dispatcher, leaseLister LeaseLister, data []byte) []byte {
	if _, err := msg.ParseList(data); err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	recs, err := mgr.List()
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}

	var leases []types.Lease
	if leaseLister != nil {
		leases, err = leaseLister.Leases()
		if err != nil {
			return mustBuild(msg.BuildError(err.Error()))
		}
	}

	resp, err := msg.BuildListResponse(recs, leases)
	if err != nil {
		return mustBuild(msg.BuildError(err.Error()))
	}
	return resp
}

// mustBuild panics only if the codec itself is broken (marshaling a plain
// struct of strings), which would be a programming error, not a runtime
// condition callers need to handle.
func mustBuild(data []byte, err error) []byte {
	if err != nil {
		panic("remote: failed to build a response message: " + err.Error())
	}
	return data
}
