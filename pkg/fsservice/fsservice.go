// Package fsservice manages the per-instance hpfs systemd --user units
// (contract_fs and ledger_fs) and the .serviceconf file that feeds them
// HPFS_MERGE/HPFS_TRACE.
//
// Grounded on original_source/src/hpfs_manager.cpp's start_hpfs_systemd,
// stop_hpfs_systemd, and update_service_conf, reimplemented as os/exec
// subprocess calls rather than system(3), the same idiom pkg/provision
// uses for the install/uninstall scripts.
package fsservice

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"sort"
	"strconv"
)

// Driver manages hpfs systemd units for instance users.
type Driver struct{}

// New constructs a Driver.
func New() *Driver {
	return &Driver{}
}

func runAsUser(ctx context.Context, username string, uid int, args ...string) error {
	full := append([]string{"-u", username, fmt.Sprintf("XDG_RUNTIME_DIR=/run/user/%d", uid)}, args...)
	cmd := exec.CommandContext(ctx, "sudo", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fsservice: %v: %s: %w", args, stderr.String(), err)
	}
	return nil
}

// Start starts and enables both hpfs units for the given user.
func (d *Driver) Start(ctx context.Context, username string, uid int) error {
	for _, op := range []string{"start", "enable"} {
		for _, unit := range []string{"contract_fs", "ledger_fs"} {
			if err := runAsUser(ctx, username, uid, "systemctl", "--user", op, unit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops and disables both hpfs units for the given user.
func (d *Driver) Stop(ctx context.Context, username string, uid int) error {
	var firstErr error
	for _, op := range []string{"stop", "disable"} {
		for _, unit := range []string{"contract_fs", "ledger_fs"} {
			if err := runAsUser(ctx, username, uid, "systemctl", "--user", op, unit); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// UpdateServiceConf rewrites ~username/.serviceconf, setting HPFS_MERGE
// (true unless history mode is "full") and HPFS_TRACE (the hpfs log
// level) while preserving any other KEY=VALUE lines already present.
func UpdateServiceConf(username, hpfsLogLevel string, fullHistory bool) error {
	return updateServiceConfAt(serviceConfPath(username), hpfsLogLevel, fullHistory)
}

func updateServiceConfAt(path, hpfsLogLevel string, fullHistory bool) error {
	data := map[string]string{}
	if existing, err := os.ReadFile(path); err == nil {
		data = parseServiceConf(existing)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("fsservice: read %s: %w", path, err)
	}

	data["HPFS_MERGE"] = strconv.FormatBool(!fullHistory)
	data["HPFS_TRACE"] = hpfsLogLevel

	return os.WriteFile(path, []byte(renderServiceConf(data)), 0o644)
}

func serviceConfPath(username string) string {
	if u, err := user.Lookup(username); err == nil && u.HomeDir != "" {
		return u.HomeDir + "/.serviceconf"
	}
	return "/home/" + username + "/.serviceconf"
}

func parseServiceConf(raw []byte) map[string]string {
	data := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		for i := 0; i < len(line); i++ {
			if line[i] == '=' {
				data[line[:i]] = line[i+1:]
				break
			}
		}
	}
	return data
}

func renderServiceConf(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, data[k])
	}
	return buf.String()
}
