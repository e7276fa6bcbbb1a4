// Package localsocket implements the control socket the CLI talks to:
// a SOCK_SEQPACKET UNIX socket, one request datagram answered by one
// response datagram per connection.
//
// Grounded on original_source/sashi-cli/cli-manager.cpp's client-side
// protocol (connect, write once, read once, close) and spec.md §4.J/§6;
// the accept-loop/goroutine-per-connection shape follows
// orbstack-swift-nio's vnet/tcpfwd unix listener idiom, since neither the
// teacher nor the rest of original_source carries a UNIX socket server.
package localsocket

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"github.com/evernode/sashimono-agent/pkg/salog"
)

// maxMessageBytes bounds a single request datagram, matching the CLI
// client's own read/write buffer size.
const maxMessageBytes = 4096

// Handler processes one raw request datagram and returns the raw response
// datagram to write back. A nil return means no response is sent (e.g. the
// connection was malformed before a type could even be determined).
type Handler func(ctx context.Context, data []byte) []byte

// Server listens on a SOCK_SEQPACKET UNIX socket and dispatches each
// connection's single request datagram to a Handler.
type Server struct {
	path    string
	group   string
	handler Handler

	ln *net.UnixListener
	wg sync.WaitGroup
}

// New constructs a Server. group is the Linux group (e.g. "sashiadmin")
// the socket file is chowned to after creation; pass "" to skip group
// restriction.
func New(path, group string, handler Handler) *Server {
	return &Server{path: path, group: group, handler: handler}
}

// Listen creates the socket file, binding at path. Any stale socket file
// left behind by a prior crashed process is removed first.
func (s *Server) Listen() error {
	_ = os.Remove(s.path)

	addr, err := net.ResolveUnixAddr("unixpacket", s.path)
	if err != nil {
		return fmt.Errorf("localsocket: resolve %s: %w", s.path, err)
	}

	ln, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return fmt.Errorf("localsocket: listen on %s: %w", s.path, err)
	}
	s.ln = ln

	if err := os.Chmod(s.path, 0o660); err != nil {
		salog.Errorf("localsocket: chmod %s: %v", s.path, err)
	}
	if s.group != "" {
		if err := restrictToGroup(s.path, s.group); err != nil {
			salog.Errorf("localsocket: restrict %s to group %s: %v", s.path, s.group, err)
		}
	}

	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled in its own goroutine and closed after
// its single request/response exchange.
func (s *Server) Serve(ctx context.Context) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.ln.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, maxMessageBytes)
	n, err := conn.Read(buf)
	if err != nil {
		salog.Errorf("localsocket: read request: %v", err)
		return
	}

	resp := s.handler(ctx, buf[:n])
	if resp == nil {
		return
	}

	if _, err := conn.Write(resp); err != nil {
		salog.Errorf("localsocket: write response: %v", err)
	}
}

// Close stops accepting new connections and waits for in-flight
// connections to finish their single exchange.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// restrictToGroup chowns path to the named group, leaving the owning user
// unchanged, so only root and members of group can reach the socket.
func restrictToGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return fmt.Errorf("lookup group %s: %w", group, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("parse gid for group %s: %w", group, err)
	}
	return syscall.Chown(path, -1, gid)
}
