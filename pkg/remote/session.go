// Package remote implements the persistent outbound session to a
// configured host:port, carried over an external hpws helper process.
//
// Grounded on original_source/src/comm/comm_session.cpp and
// comm_handler.cpp: reader/writer goroutines in place of the original's
// reader/writer threads, a Go channel in place of the moodycamel
// reader-writer queue for inbound messages, and a mutex-guarded slice in
// place of the unbounded concurrent queue for outbound messages.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/evernode/sashimono-agent/pkg/msg"
	"github.com/evernode/sashimono-agent/pkg/salog"
)

// State is the session's lifecycle stage. Transitions are monotonic:
// none -> active -> mustClose -> closed.
type State int

const (
	StateNone State = iota
	StateActive
	StateMustClose
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	case StateMustClose:
		return "must_close"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// inboundQueueCapacity bounds the inbound queue; once full, the reader
// silently drops new messages as explicit back-pressure on the sender.
const inboundQueueCapacity = 64

// writerIdleSleep is how long the writer naps when the outbound queue is
// empty, matching the original's 10ms poll.
const writerIdleSleep = 10 * time.Millisecond

// Session is a single persistent connection to a remote host, carried by
// an hpws child process.
type Session struct {
	hostAddress string
	client      hpwsClient
	mgr         Dispatcher
	leases      LeaseLister

	mu    sync.Mutex
	state State

	inbound chan []byte

	outMu  sync.Mutex
	outbox [][]byte

	wg sync.WaitGroup
}

// NewSession constructs a Session wrapping an already-connected hpws
// client. hostAddress is used only for logging.
func NewSession(hostAddress string, client hpwsClient, mgr Dispatcher, leases LeaseLister) *Session {
	return &Session{
		hostAddress: hostAddress,
		client:      client,
		mgr:         mgr,
		leases:      leases,
		inbound:     make(chan []byte, inboundQueueCapacity),
	}
}

// Dial launches the hpws helper connected to host:port and starts a
// session over it.
func Dial(ctx context.Context, hpwsExePath, host string, port uint16, mgr Dispatcher, leases LeaseLister) (*Session, error) {
	proc, err := startHpws(ctx, hpwsExePath, host, port)
	if err != nil {
		return nil, err
	}
	s := NewSession(host, proc, mgr, leases)
	s.Init()
	return s, nil
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init activates the session: starts the reader and writer goroutines and
// enqueues the unsolicited init message. Calling Init more than once on
// the same session has no effect.
func (s *Session) Init() {
	s.mu.Lock()
	if s.state != StateNone {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readerLoop()
	go s.writerLoop()

	if data, err := msg.BuildInit(); err == nil {
		s.Send(data)
	} else {
		salog.Errorf("remote: failed to build init message: %v", err)
	}
	salog.Errorf("remote: session started: %s", s.hostAddress)
}

// Send enqueues message on the outbound queue. Returns false if the
// session is already closed.
func (s *Session) Send(message []byte) bool {
	if s.State() == StateClosed {
		return false
	}
	s.outMu.Lock()
	s.outbox = append(s.outbox, message)
	s.outMu.Unlock()
	return true
}

// readerLoop blocks on the hpws client's Read, enqueuing successfully read
// payloads onto the bounded inbound queue, acking them, then dispatching
// everything queued. Any read or ack error marks the session must_close.
func (s *Session) readerLoop() {
	defer s.wg.Done()
	for s.State() != StateClosed {
		payload, err := s.client.Read()
		if err != nil {
			salog.Errorf("remote: hpws read failed for %s: %v", s.hostAddress, err)
			s.markForClosure()
			return
		}

		select {
		case s.inbound <- payload:
		default:
			salog.Errorf("remote: inbound queue full for %s, dropping message", s.hostAddress)
		}

		if err := s.client.Ack(payload); err != nil {
			salog.Errorf("remote: hpws ack failed for %s: %v", s.hostAddress, err)
			s.markForClosure()
			return
		}

		s.drainInbound()
	}
}

// drainInbound processes every inbound message currently queued, building
// and enqueuing a response for each.
func (s *Session) drainInbound() {
	for {
		select {
		case payload := <-s.inbound:
			resp := HandleRequest(context.Background(), s.mgr, s.leases, payload)
			if resp != nil {
				s.Send(resp)
			}
		default:
			return
		}
	}
}

// writerLoop dequeues outbound messages and writes them via hpws. When the
// queue is empty it sleeps briefly rather than busy-waiting.
func (s *Session) writerLoop() {
	defer s.wg.Done()
	for s.State() != StateClosed {
		msg, ok := s.dequeueOutbound()
		if !ok {
			time.Sleep(writerIdleSleep)
			continue
		}
		if err := s.client.Write(msg); err != nil {
			salog.Errorf("remote: hpws write failed for %s: %v", s.hostAddress, err)
		}
	}
}

func (s *Session) dequeueOutbound() ([]byte, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(s.outbox) == 0 {
		return nil, false
	}
	msg := s.outbox[0]
	s.outbox = s.outbox[1:]
	return msg, true
}

func (s *Session) markForClosure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateMustClose
	}
}

// Close transitions the session to closed, tears down the hpws process,
// and joins the reader and writer goroutines.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	_ = s.client.Close()
	s.wg.Wait()
	salog.Errorf("remote: session closed: %s", s.hostAddress)
}
