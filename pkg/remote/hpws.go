package remote

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// hpwsClient is the narrow contract the session needs from the hpws
// helper process: blocking read, write, and ack over opaque byte
// payloads. Grounded on original_source/src/comm/comm_handler.cpp's
// hpws::client::connect call and comm_session.cpp's read/write/ack usage.
type hpwsClient interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Ack(data []byte) error
	Close() error
}

// process wraps a running hpws child process, framing its stdin/stdout
// pipes as described in frame.go.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// startHpws launches the hpws helper and connects it to host:port. exePath
// is the configured path to the hpws binary (spec.md §4.K).
func startHpws(ctx context.Context, exePath, host string, port uint16) (*process, error) {
	cmd := exec.CommandContext(ctx, exePath, host, strconv.Itoa(int(port)))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("remote: hpws stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("remote: hpws stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("remote: start hpws: %w", err)
	}

	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// Read blocks until a data frame arrives from hpws.
func (p *process) Read() ([]byte, error) {
	for {
		typ, payload, err := readFrame(p.stdout)
		if err != nil {
			return nil, err
		}
		if typ == frameTypeData {
			return payload, nil
		}
		// Stray ack frames from the helper are not expected on this
		// direction but are harmlessly skipped rather than treated as
		// protocol errors.
	}
}

// Write sends a data frame to hpws.
func (p *process) Write(data []byte) error {
	return writeFrame(p.stdin, frameTypeData, data)
}

// Ack signals hpws that the previously read frame has been consumed and
// the session is ready for the next one.
func (p *process) Ack(data []byte) error {
	return writeFrame(p.stdin, frameTypeAck, data)
}

// Close tears down the pipes and waits for the child to exit.
func (p *process) Close() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	return p.cmd.Wait()
}
