package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestInstallSuccess(t *testing.T) {
	script := writeScript(t, `echo 10023
echo sashi_0001
echo INST_SUC
`)
	p := New(script, "")

	user, err := p.Install(context.Background(), InstallParams{ContainerName: "inst-1"})
	require.NoError(t, err)
	assert.Equal(t, 10023, user.UID)
	assert.Equal(t, "sashi_0001", user.Username)
}

func TestInstallFailureSentinel(t *testing.T) {
	script := writeScript(t, `echo "no more uids available"
echo INST_ERR
`)
	p := New(script, "")

	_, err := p.Install(context.Background(), InstallParams{ContainerName: "inst-1"})
	assert.ErrorContains(t, err, "no more uids available")
}

func TestInstallMissingSentinel(t *testing.T) {
	script := writeScript(t, `echo "something went wrong silently"
`)
	p := New(script, "")

	_, err := p.Install(context.Background(), InstallParams{ContainerName: "inst-1"})
	assert.ErrorContains(t, err, "recognized sentinel")
}

func TestUninstallSuccess(t *testing.T) {
	script := writeScript(t, `echo UNINST_SUC
`)
	p := New("", script)

	err := p.Uninstall(context.Background(), "sashi_0001")
	assert.NoError(t, err)
}

func TestUninstallFailureSentinel(t *testing.T) {
	script := writeScript(t, `echo "user still has open files"
echo UNINST_ERR
`)
	p := New("", script)

	err := p.Uninstall(context.Background(), "sashi_0001")
	assert.ErrorContains(t, err, "user still has open files")
}
