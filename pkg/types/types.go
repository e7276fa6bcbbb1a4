// Package types defines the data model shared across the agent: the
// instance record, its lifecycle status, and the supporting value types
// used by the store, the instance manager, and the message codec.
package types

import "time"

// Status is the lifecycle state of a contract instance.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusDestroyed Status = "destroyed"
	StatusExited    Status = "exited" // the supervisor's restart of a container that left the running state failed
)

// Instance is the persistent record of a contract instance, one row in the
// store's instances table. Field names follow the instance record in
// the data model: ContainerName is the primary key.
type Instance struct {
	ContainerName string // UUIDv4, unique, used as the container's name
	OwnerPubkey   string // ed-prefixed, 66-char hex
	ContractID    string // UUIDv4
	Pubkey        string // instance signing public key, 66-char hex
	IP            string
	PeerPort      uint16
	UserPort      uint16
	Status        Status
	Username      string // host Linux user owning the instance
	Image         string // container image reference
	CreatedAt     int64  // epoch ms, set on insertion
}

// Lease is supplemental tenancy metadata an external lease indexer may
// attach to an instance; joined into list responses when present but never
// required for any core operation.
type Lease struct {
	ContainerName    string
	Timestamp        int64
	CreatedOnLedger  int64
	LifeMoments      int64
	TenantXRPAddress string
}

// Moment is the lease-duration accounting unit, in seconds.
const Moment = 3600

// ExpiryTimestamp returns the lease's computed expiry time.
func (l Lease) ExpiryTimestamp() int64 {
	return l.Timestamp + l.LifeMoments*Moment
}

// PortPair is a (peer_port, user_port) allocation unit.
type PortPair struct {
	PeerPort uint16
	UserPort uint16
}

// Now returns the current time as epoch milliseconds, the timestamp unit
// used throughout the store and message codec.
func Now() int64 {
	return time.Now().UnixMilli()
}
