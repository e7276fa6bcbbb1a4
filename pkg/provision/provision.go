// Package provision creates and tears down the dedicated Linux user for
// each contract instance by shelling out to operator-supplied scripts,
// parsing their sentinel-delimited stdout protocol.
//
// Grounded on original_source/src/hp_manager.cpp's install_user/
// uninstall_user and pkg/worker/secrets.go's external-process-with-cleanup
// idiom. Uses only os/exec: the contract here is literally "run this
// script and read its last lines", which no higher-level library in the
// example pack models better than the standard library.
package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	installSuccess   = "INST_SUC"
	installError     = "INST_ERR"
	uninstallSuccess = "UNINST_SUC"
	uninstallError   = "UNINST_ERR"
)

// InstallParams are the inputs to the install script.
type InstallParams struct {
	MaxCPUUs      int64
	MaxMemKbytes  int64
	StorageKbytes int64
	ContainerName string
	ContractUID   int
	ContractGID   int
}

// InstalledUser is the host user created for an instance.
type InstalledUser struct {
	UID      int
	Username string
}

// Provisioner runs the install/uninstall scripts.
type Provisioner struct {
	InstallScript   string
	UninstallScript string
}

// New constructs a Provisioner from the two script paths.
func New(installScript, uninstallScript string) *Provisioner {
	return &Provisioner{InstallScript: installScript, UninstallScript: uninstallScript}
}

// Install runs the install script and parses its sentinel-terminated
// output. Success output ends with three lines: uid, username, INST_SUC;
// any earlier lines are ignored. A missing sentinel, an INST_ERR sentinel,
// fewer than three lines or a non-numeric uid is treated as failure.
func (p *Provisioner) Install(ctx context.Context, params InstallParams) (InstalledUser, error) {
	cmd := exec.CommandContext(ctx, p.InstallScript,
		strconv.FormatInt(params.MaxCPUUs, 10),
		strconv.FormatInt(params.MaxMemKbytes, 10),
		strconv.FormatInt(params.StorageKbytes, 10),
		params.ContainerName,
		strconv.Itoa(params.ContractUID),
		strconv.Itoa(params.ContractGID),
	)

	out, runErr := cmd.Output()
	lines := nonEmptyLines(string(out))
	if len(lines) == 0 {
		return InstalledUser{}, fmt.Errorf("provision: install script produced no output: %w", runErr)
	}

	last := lines[len(lines)-1]
	if last != installSuccess {
		if last == installError {
			return InstalledUser{}, fmt.Errorf("provision: install failed: %s", strings.Join(lines[:len(lines)-1], "; "))
		}
		return InstalledUser{}, fmt.Errorf("provision: install script did not end with a recognized sentinel: %q", last)
	}

	if len(lines) < 3 {
		return InstalledUser{}, fmt.Errorf("provision: install script success output missing uid/username lines")
	}

	uid, err := strconv.Atoi(lines[len(lines)-3])
	if err != nil {
		return InstalledUser{}, fmt.Errorf("provision: install script reported non-numeric uid %q: %w", lines[len(lines)-3], err)
	}

	return InstalledUser{UID: uid, Username: lines[len(lines)-2]}, nil
}

// Uninstall runs the uninstall script for username and checks its
// sentinel.
func (p *Provisioner) Uninstall(ctx context.Context, username string) error {
	cmd := exec.CommandContext(ctx, p.UninstallScript, username)

	out, runErr := cmd.Output()
	lines := nonEmptyLines(string(out))
	if len(lines) == 0 {
		return fmt.Errorf("provision: uninstall script produced no output: %w", runErr)
	}

	last := lines[len(lines)-1]
	if last == uninstallSuccess {
		return nil
	}
	if last == uninstallError {
		return fmt.Errorf("provision: uninstall failed: %s", strings.Join(lines[:len(lines)-1], "; "))
	}
	return fmt.Errorf("provision: uninstall script did not end with a recognized sentinel: %q", last)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
