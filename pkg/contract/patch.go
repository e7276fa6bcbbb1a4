package contract

import (
	"fmt"
)

// ConfigPatch is the partial overlay carried by the "initiate" request,
// matching the config override object in the external interfaces:
// top-level keys contract, node, mesh, user, hpfs, log. Absent fields
// leave the existing config unchanged. A "start" request carries no
// overlay; Start applies an empty ConfigPatch.
type ConfigPatch struct {
	Contract *ContractPatch `json:"contract,omitempty"`
	Node     *NodePatch     `json:"node,omitempty"`
	Mesh     *MeshPatch     `json:"mesh,omitempty"`
	User     *UserPatch     `json:"user,omitempty"`
	Hpfs     *HpfsPatch     `json:"hpfs,omitempty"`
	Log      *LogPatch      `json:"log,omitempty"`
}

type ContractPatch struct {
	Consensus          map[string]any `json:"consensus,omitempty"`
	NPL                map[string]any `json:"npl,omitempty"`
	RoundLimits        map[string]any `json:"round_limits,omitempty"`
	Environment        map[string]string `json:"environment,omitempty"`
	MaxInputLedgerOffset *int64       `json:"max_input_ledger_offset,omitempty"`
}

type HistoryConfigPatch struct {
	MaxPrimaryShards *int64 `json:"max_primary_shards,omitempty"`
	MaxRawShards     *int64 `json:"max_raw_shards,omitempty"`
}

type NodePatch struct {
	History       *string             `json:"history,omitempty"` // "full" | "custom"
	HistoryConfig *HistoryConfigPatch `json:"history_config,omitempty"`
	Role          *string             `json:"role,omitempty"` // "observer" | "validator"
}

type MeshPatch struct {
	KnownPeers     []string `json:"known_peers,omitempty"`
	PeerDiscovery  *bool    `json:"peer_discovery,omitempty"`
}

type UserPatch struct {
	ConcurrentReadRequests *int64 `json:"concurrent_read_requests,omitempty"`
}

type HpfsPatch struct {
	Log *HpfsLogPatch `json:"log,omitempty"`
}

type HpfsLogPatch struct {
	LogLevel *string `json:"log_level,omitempty"`
}

type LogPatch struct {
	Loggers []string `json:"loggers,omitempty"`
}

// ValidationError is returned by ValidatePatch for a malformed override.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contract: invalid config patch field %s: %s", e.Field, e.Reason)
}

var validLogLevels = map[string]bool{"dbg": true, "inf": true, "wrn": true, "err": true}

// ValidatePatch enforces the enum and cross-field constraints from the
// external interfaces section: node.history in {full, custom}, node.role
// in {observer, validator}, log levels in {dbg, inf, wrn, err}, and a
// history=custom config must not carry max_primary_shards = 0.
func ValidatePatch(p ConfigPatch) error {
	if p.Node != nil {
		if p.Node.History != nil {
			h := *p.Node.History
			if h != "full" && h != "custom" {
				return &ValidationError{Field: "node.history", Reason: fmt.Sprintf("must be 'full' or 'custom', got %q", h)}
			}
			if h == "custom" && p.Node.HistoryConfig != nil && p.Node.HistoryConfig.MaxPrimaryShards != nil && *p.Node.HistoryConfig.MaxPrimaryShards == 0 {
				return &ValidationError{Field: "node.history_config.max_primary_shards", Reason: "cannot be zero in history=custom mode"}
			}
		}
		if p.Node.Role != nil {
			r := *p.Node.Role
			if r != "observer" && r != "validator" {
				return &ValidationError{Field: "node.role", Reason: fmt.Sprintf("must be 'observer' or 'validator', got %q", r)}
			}
		}
	}
	if p.Hpfs != nil && p.Hpfs.Log != nil && p.Hpfs.Log.LogLevel != nil {
		if !validLogLevels[*p.Hpfs.Log.LogLevel] {
			return &ValidationError{Field: "hpfs.log.log_level", Reason: fmt.Sprintf("must be one of dbg|inf|wrn|err, got %q", *p.Hpfs.Log.LogLevel)}
		}
	}
	return nil
}

// ApplyPatch deep-merges patch's present fields into doc (a parsed hp.cfg
// document), preserving every key the patch doesn't mention. doc is
// mutated in place.
func ApplyPatch(doc map[string]any, p ConfigPatch) {
	if p.Contract != nil {
		c := mapAt(doc, "contract")
		mergeMap(c, "consensus", p.Contract.Consensus)
		mergeMap(c, "npl", p.Contract.NPL)
		mergeMap(c, "round_limits", p.Contract.RoundLimits)
		if p.Contract.Environment != nil {
			c["environment"] = p.Contract.Environment
		}
		if p.Contract.MaxInputLedgerOffset != nil {
			c["max_input_ledger_offset"] = *p.Contract.MaxInputLedgerOffset
		}
	}
	if p.Node != nil {
		n := mapAt(doc, "node")
		if p.Node.History != nil {
			n["history"] = *p.Node.History
		}
		if p.Node.Role != nil {
			n["role"] = *p.Node.Role
		}
		if hc := p.Node.HistoryConfig; hc != nil {
			nc := mapAt(n, "history_config")
			if hc.MaxPrimaryShards != nil {
				nc["max_primary_shards"] = *hc.MaxPrimaryShards
			}
			if hc.MaxRawShards != nil {
				nc["max_raw_shards"] = *hc.MaxRawShards
			}
		}
	}
	if p.Mesh != nil {
		m := mapAt(doc, "mesh")
		if p.Mesh.KnownPeers != nil {
			m["known_peers"] = p.Mesh.KnownPeers
		}
		if p.Mesh.PeerDiscovery != nil {
			m["peer_discovery"] = *p.Mesh.PeerDiscovery
		}
	}
	if p.User != nil {
		u := mapAt(doc, "user")
		if p.User.ConcurrentReadRequests != nil {
			u["concurrent_read_requests"] = *p.User.ConcurrentReadRequests
		}
	}
	if p.Hpfs != nil {
		h := mapAt(doc, "hpfs")
		if p.Hpfs.Log != nil && p.Hpfs.Log.LogLevel != nil {
			hl := mapAt(h, "log")
			hl["log_level"] = *p.Hpfs.Log.LogLevel
		}
	}
	if p.Log != nil {
		l := mapAt(doc, "log")
		if p.Log.Loggers != nil {
			l["loggers"] = p.Log.Loggers
		}
	}
}

func mergeMap(parent map[string]any, key string, patch map[string]any) {
	if patch == nil {
		return
	}
	target := mapAt(parent, key)
	for k, v := range patch {
		target[k] = v
	}
}

// HistoryMode reads the effective node.history value out of a parsed
// hp.cfg document, used by FsServiceDriver to derive HPFS_MERGE.
func HistoryMode(doc map[string]any) string {
	if node, ok := doc["node"].(map[string]any); ok {
		if h, ok := node["history"].(string); ok {
			return h
		}
	}
	return "full"
}

// HpfsLogLevel reads the effective hpfs.log.log_level value.
func HpfsLogLevel(doc map[string]any) string {
	if hpfs, ok := doc["hpfs"].(map[string]any); ok {
		if logNode, ok := hpfs["log"].(map[string]any); ok {
			if lvl, ok := logNode["log_level"].(string); ok {
				return lvl
			}
		}
	}
	return "err"
}

// ReadConfigDoc reads and parses an hp.cfg file.
func ReadConfigDoc(path string) (map[string]any, error) {
	return readJSONDoc(path)
}

// WriteConfigDoc writes a parsed hp.cfg document back, pretty-printed.
func WriteConfigDoc(path string, doc map[string]any) error {
	return writeJSONDoc(path, doc)
}
