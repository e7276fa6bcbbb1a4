// Package store persists instance records in an embedded SQLite database,
// exposing the aggregate and reclamation queries the port allocator and
// instance manager depend on.
//
// Grounded on original_source/src/sqlite.cpp (exact schema and query
// shapes) and pkg/storage/store.go's interface-over-driver shape. Uses
// github.com/mattn/go-sqlite3, an ecosystem addition justified in
// SPEC_FULL.md §4.A: the spec's "embedded relational store" contract
// needs MAX()/DISTINCT-NOT-IN query semantics a key-value store can't
// express without hand-rolled scans, and the driver is already present
// (transitively) in the example pack via lazydocker's go.mod.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/evernode/sashimono-agent/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	name         TEXT PRIMARY KEY,
	owner_pubkey TEXT NOT NULL,
	contract_id  TEXT NOT NULL,
	pubkey       TEXT NOT NULL,
	ip           TEXT NOT NULL,
	peer_port    INT  NOT NULL,
	user_port    INT  NOT NULL,
	status       TEXT NOT NULL,
	username     TEXT NOT NULL,
	image        TEXT NOT NULL,
	time         INT  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_owner_pubkey ON instances(owner_pubkey);

CREATE TABLE IF NOT EXISTS leases (
	container_name     TEXT PRIMARY KEY,
	timestamp          INT  NOT NULL,
	created_on_ledger  INT  NOT NULL,
	life_moments       INT  NOT NULL,
	tenant             TEXT NOT NULL
);
`

// Store wraps the sqlite-backed instances table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and ensures the
// schema exists. Journaling is left at SQLite's default — it must never be
// disabled on the instances table, per the durability requirement in
// SPEC_FULL.md §4.A.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertInstance inserts a new instance record.
func (s *Store) InsertInstance(rec types.Instance) error {
	_, err := s.db.Exec(
		`INSERT INTO instances(name, owner_pubkey, contract_id, pubkey, ip, peer_port, user_port, status, username, image, time)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ContainerName, rec.OwnerPubkey, rec.ContractID, rec.Pubkey, rec.IP,
		rec.PeerPort, rec.UserPort, rec.Status, rec.Username, rec.Image, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert instance %s: %w", rec.ContainerName, err)
	}
	return nil
}

// GetInstance fetches a single instance by name. found is false if no row
// matches.
func (s *Store) GetInstance(name string) (rec types.Instance, found bool, err error) {
	row := s.db.QueryRow(
		`SELECT name, owner_pubkey, contract_id, pubkey, ip, peer_port, user_port, status, username, image, time
		 FROM instances WHERE name = ?`, name)

	var status string
	err = row.Scan(&rec.ContainerName, &rec.OwnerPubkey, &rec.ContractID, &rec.Pubkey, &rec.IP,
		&rec.PeerPort, &rec.UserPort, &status, &rec.Username, &rec.Image, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return types.Instance{}, false, nil
	}
	if err != nil {
		return types.Instance{}, false, fmt.Errorf("store: get instance %s: %w", name, err)
	}
	rec.Status = types.Status(status)
	return rec, true, nil
}

// UpdateStatus sets the status column for the named instance.
func (s *Store) UpdateStatus(name string, status types.Status) error {
	res, err := s.db.Exec(`UPDATE instances SET status = ? WHERE name = ?`, string(status), name)
	if err != nil {
		return fmt.Errorf("store: update status for %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update status for %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update status: no such instance %s", name)
	}
	return nil
}

// MaxPorts returns the highest peer_port and user_port among non-destroyed
// rows. Returns (0, 0) when no such row exists; callers must fall back to
// the configured initial ports minus one, per the port allocator's
// algorithm.
func (s *Store) MaxPorts() (peerPort, userPort uint16, err error) {
	row := s.db.QueryRow(
		`SELECT max(peer_port), max(user_port) FROM instances WHERE status != ?`,
		string(types.StatusDestroyed))

	var peer, user sql.NullInt64
	if err := row.Scan(&peer, &user); err != nil {
		return 0, 0, fmt.Errorf("store: max ports: %w", err)
	}
	return uint16(peer.Int64), uint16(user.Int64), nil
}

// VacantPorts returns distinct (peer_port, user_port) pairs belonging to
// destroyed instances whose user_port is not in use by any non-destroyed
// instance.
func (s *Store) VacantPorts() ([]types.PortPair, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT peer_port, user_port FROM instances
		 WHERE status = ? AND user_port NOT IN (
		   SELECT user_port FROM instances WHERE status != ?
		 )`,
		string(types.StatusDestroyed), string(types.StatusDestroyed))
	if err != nil {
		return nil, fmt.Errorf("store: vacant ports: %w", err)
	}
	defer rows.Close()

	var pairs []types.PortPair
	for rows.Next() {
		var p types.PortPair
		if err := rows.Scan(&p.PeerPort, &p.UserPort); err != nil {
			return nil, fmt.Errorf("store: vacant ports scan: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// AllocatedCount returns the number of non-destroyed instance rows.
func (s *Store) AllocatedCount() (int, error) {
	row := s.db.QueryRow(`SELECT count(*) FROM instances WHERE status != ?`, string(types.StatusDestroyed))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: allocated count: %w", err)
	}
	return n, nil
}

// RunningInstances returns the full records of all instances currently
// marked running, for the supervisor's health scan.
func (s *Store) RunningInstances() ([]types.Instance, error) {
	rows, err := s.db.Query(
		`SELECT name, owner_pubkey, contract_id, pubkey, ip, peer_port, user_port, status, username, image, time
		 FROM instances WHERE status = ?`, string(types.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("store: running instances: %w", err)
	}
	defer rows.Close()

	var recs []types.Instance
	for rows.Next() {
		var rec types.Instance
		var status string
		if err := rows.Scan(&rec.ContainerName, &rec.OwnerPubkey, &rec.ContractID, &rec.Pubkey, &rec.IP,
			&rec.PeerPort, &rec.UserPort, &status, &rec.Username, &rec.Image, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: running instances scan: %w", err)
		}
		rec.Status = types.Status(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListInstances returns all instance records, for the list control
// operation.
func (s *Store) ListInstances() ([]types.Instance, error) {
	rows, err := s.db.Query(
		`SELECT name, owner_pubkey, contract_id, pubkey, ip, peer_port, user_port, status, username, image, time
		 FROM instances`)
	if err != nil {
		return nil, fmt.Errorf("store: list instances: %w", err)
	}
	defer rows.Close()

	var recs []types.Instance
	for rows.Next() {
		var rec types.Instance
		var status string
		if err := rows.Scan(&rec.ContainerName, &rec.OwnerPubkey, &rec.ContractID, &rec.Pubkey, &rec.IP,
			&rec.PeerPort, &rec.UserPort, &status, &rec.Username, &rec.Image, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list instances scan: %w", err)
		}
		rec.Status = types.Status(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpsertLease records lease metadata for a container, for the supplemental
// lease-join feature on list responses. No core lifecycle operation calls
// this; it exists for an external lease-indexing collaborator.
func (s *Store) UpsertLease(lease types.Lease) error {
	_, err := s.db.Exec(
		`INSERT INTO leases(container_name, timestamp, created_on_ledger, life_moments, tenant)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(container_name) DO UPDATE SET
		   timestamp=excluded.timestamp, created_on_ledger=excluded.created_on_ledger,
		   life_moments=excluded.life_moments, tenant=excluded.tenant`,
		lease.ContainerName, lease.Timestamp, lease.CreatedOnLedger, lease.LifeMoments, lease.TenantXRPAddress,
	)
	if err != nil {
		return fmt.Errorf("store: upsert lease %s: %w", lease.ContainerName, err)
	}
	return nil
}

// Leases returns every recorded lease, for joining into list responses.
func (s *Store) Leases() ([]types.Lease, error) {
	rows, err := s.db.Query(
		`SELECT container_name, timestamp, created_on_ledger, life_moments, tenant FROM leases`)
	if err != nil {
		return nil, fmt.Errorf("store: list leases: %w", err)
	}
	defer rows.Close()

	var leases []types.Lease
	for rows.Next() {
		var lease types.Lease
		if err := rows.Scan(&lease.ContainerName, &lease.Timestamp, &lease.CreatedOnLedger,
			&lease.LifeMoments, &lease.TenantXRPAddress); err != nil {
			return nil, fmt.Errorf("store: list leases scan: %w", err)
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

// GetLease fetches lease metadata for a container, if any is recorded.
func (s *Store) GetLease(containerName string) (lease types.Lease, found bool, err error) {
	row := s.db.QueryRow(
		`SELECT container_name, timestamp, created_on_ledger, life_moments, tenant FROM leases WHERE container_name = ?`,
		containerName)
	err = row.Scan(&lease.ContainerName, &lease.Timestamp, &lease.CreatedOnLedger, &lease.LifeMoments, &lease.TenantXRPAddress)
	if err == sql.ErrNoRows {
		return types.Lease{}, false, nil
	}
	if err != nil {
		return types.Lease{}, false, fmt.Errorf("store: get lease %s: %w", containerName, err)
	}
	return lease, true, nil
}
