// Package contract materializes a ready-to-run contract directory for a
// new instance: stages the template tree, patches hp.cfg, generates the
// instance's signing keypair and self-signed TLS cert, and atomically
// publishes the result.
//
// Grounded on original_source/src/hp_manager.cpp's create_contract and
// pkg/scrypto's key/cert generation. Config patching uses encoding/json
// against map[string]any trees, the idiomatic Go equivalent of the
// original's ordered-JSON read-modify-write cycle.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evernode/sashimono-agent/pkg/scrypto"
	"github.com/evernode/sashimono-agent/pkg/types"
)

// Params are the inputs to materialization.
type Params struct {
	Username    string
	OwnerPubkey string
	ContractID  string
	TemplateDir string // source template tree to clone
	ContractDir string // final destination directory
	Ports       types.PortPair
}

// Result is what materialization produces, for the caller to fold into
// the instance record and config patch step.
type Result struct {
	PublicKeyHex string
}

// Materialize stages, patches, and publishes the contract directory. On
// any failure it removes the staging directory and leaves no partial tree
// at ContractDir.
func Materialize(p Params) (Result, error) {
	staging, err := os.MkdirTemp("", "sa-contract-*")
	if err != nil {
		return Result{}, fmt.Errorf("contract: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) // no-op once renamed into place

	if err := copyTree(p.TemplateDir, staging); err != nil {
		return Result{}, fmt.Errorf("contract: clone template: %w", err)
	}

	keys, err := scrypto.GenerateSigningKeys()
	if err != nil {
		return Result{}, fmt.Errorf("contract: generate signing keys: %w", err)
	}

	cfgPath := filepath.Join(staging, "cfg", "hp.cfg")
	doc, err := readJSONDoc(cfgPath)
	if err != nil {
		return Result{}, fmt.Errorf("contract: read hp.cfg: %w", err)
	}

	patchInitialConfig(doc, p, keys)

	if err := writeJSONDoc(cfgPath, doc); err != nil {
		return Result{}, fmt.Errorf("contract: write hp.cfg: %w", err)
	}

	cert, err := scrypto.GenerateSelfSignedCert(p.Username)
	if err != nil {
		return Result{}, fmt.Errorf("contract: generate tls cert: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "cfg", "tlscert.pem"), cert.CertPEM, 0o644); err != nil {
		return Result{}, fmt.Errorf("contract: write tlscert.pem: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "cfg", "tlskey.pem"), cert.KeyPEM, 0o600); err != nil {
		return Result{}, fmt.Errorf("contract: write tlskey.pem: %w", err)
	}

	if err := os.Rename(staging, p.ContractDir); err != nil {
		return Result{}, fmt.Errorf("contract: publish contract dir: %w", err)
	}

	if err := chownRecursive(p.ContractDir, p.Username); err != nil {
		_ = os.RemoveAll(p.ContractDir)
		return Result{}, fmt.Errorf("contract: chown contract dir: %w", err)
	}

	return Result{PublicKeyHex: keys.PublicKeyHex}, nil
}

func patchInitialConfig(doc map[string]any, p Params, keys scrypto.SigningKeyPair) {
	node := mapAt(doc, "node")
	node["public_key"] = keys.PublicKeyHex
	node["private_key"] = keys.PrivateKeyHex
	historyCfg := mapAt(node, "history_config")
	historyCfg["max_primary_shards"] = 2
	historyCfg["max_raw_shards"] = 2

	contractNode := mapAt(doc, "contract")
	contractNode["id"] = p.ContractID
	contractNode["run_as"] = "10000:10000"
	contractNode["unl"] = []string{keys.PublicKeyHex}
	contractNode["bin_path"] = "bootstrap_contract"
	contractNode["bin_args"] = p.OwnerPubkey

	mesh := mapAt(doc, "mesh")
	mesh["port"] = p.Ports.PeerPort

	user := mapAt(doc, "user")
	user["port"] = p.Ports.UserPort

	hpfs := mapAt(doc, "hpfs")
	hpfs["external"] = true
	hpfsLog := mapAt(hpfs, "log")
	hpfsLog["log_level"] = "err"

	logCfg := mapAt(doc, "log")
	if _, ok := logCfg["log_level"]; !ok {
		logCfg["log_level"] = "inf"
	}
	if _, ok := logCfg["max_mbytes_per_file"]; !ok {
		logCfg["max_mbytes_per_file"] = 5
	}
	if _, ok := logCfg["max_file_count"]; !ok {
		logCfg["max_file_count"] = 10
	}
}

func mapAt(doc map[string]any, key string) map[string]any {
	if existing, ok := doc[key].(map[string]any); ok {
		return existing
	}
	m := map[string]any{}
	doc[key] = m
	return m
}

func readJSONDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeJSONDoc(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
