package rtspengine

import (
	"fmt"
	"net"
	"time"

	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/nrtsp/rtspengine/pkg/liberrors"
)

// SocketState is the lifecycle state of a Socket, per §3.
type SocketState int

const (
	StateDisconnected SocketState = iota
	StateConnectable
	StateConnecting
	StateConnected
	StateReadable
	StateReading
	StateWritable
	StateWriting
)

func (s SocketState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectable:
		return "connectable"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReadable:
		return "readable"
	case StateReading:
		return "reading"
	case StateWritable:
		return "writable"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// Socket is a unified TCP/UDP endpoint with readiness-driven callbacks,
// blocking and non-blocking I/O, an "unread" pushback buffer, and
// per-endpoint timeout bookkeeping (§3, §4.2).
type Socket struct {
	Kind base.TransportKind
	Host string
	Port string

	state      SocketState
	lastActive time.Time
	connectBy  time.Time
	lastErr    string

	conn     net.Conn
	dialFn   func(network, address string, timeout time.Duration) (net.Conn, error)
	inflight chan connectResult

	pushback []byte

	OnConnectable func()
	OnWritable    func()
	OnReadable    func()
	OnNetworkErr  func(error)
}

type connectResult struct {
	conn net.Conn
	err  error
}

// NewSocket allocates a disconnected Socket for the given transport kind,
// host and port.
func NewSocket(kind base.TransportKind, host, port string) *Socket {
	return &Socket{
		Kind:  kind,
		Host:  host,
		Port:  port,
		state: StateDisconnected,
	}
}

func (s *Socket) network() string {
	if s.Kind == base.TransportDatagram {
		return "udp"
	}
	return "tcp"
}

func (s *Socket) touch() {
	s.lastActive = time.Now()
}

func (s *Socket) fail(op string, err error) error {
	wrapped := liberrors.ErrNetwork{Op: op, Err: err}
	s.lastErr = wrapped.Error()
	s.touch()
	if s.OnNetworkErr != nil {
		s.OnNetworkErr(wrapped)
	}
	return wrapped
}

// State returns the current lifecycle state.
func (s *Socket) State() SocketState { return s.state }

// LastError returns the last recorded network error string, if any.
func (s *Socket) LastError() string { return s.lastErr }

// IsConnected reports whether the socket is connected and its peer is
// still reachable.
func (s *Socket) IsConnected() bool {
	if s.state == StateDisconnected || s.conn == nil {
		return false
	}
	if tc, ok := s.conn.(interface{ RemoteAddr() net.Addr }); ok {
		return tc.RemoteAddr() != nil
	}
	return true
}

// ConnectBlocking connects synchronously, failing with a network error if
// the deadline is exceeded.
func (s *Socket) ConnectBlocking(timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(s.Host, s.Port)
	conn, err := d.Dial(s.network(), addr)
	if err != nil {
		s.state = StateDisconnected
		return s.fail("connect", err)
	}
	s.conn = conn
	s.state = StateConnected
	s.touch()
	return nil
}

// ConnectNonblocking begins an asynchronous connect on a background dial.
// The EventLoop later calls PollConnect each cycle to collect the result
// or to fail the connect once its deadline has passed.
func (s *Socket) ConnectNonblocking(timeout time.Duration) {
	s.state = StateConnecting
	s.connectBy = time.Now().Add(timeout)
	s.inflight = make(chan connectResult, 1)

	addr := net.JoinHostPort(s.Host, s.Port)
	network := s.network()

	go func() {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.Dial(network, addr)
		s.inflight <- connectResult{conn: conn, err: err}
	}()
}

// PollConnect is called by the EventLoop once per cycle while the socket
// is Connecting. It returns (done, success).
func (s *Socket) PollConnect() (done bool, success bool) {
	if s.state != StateConnecting {
		return true, s.state == StateConnected
	}

	select {
	case res := <-s.inflight:
		if res.err != nil {
			s.state = StateDisconnected
			s.fail("connect", res.err)
			return true, false
		}
		s.conn = res.conn
		s.state = StateConnected
		s.touch()
		return true, true
	default:
	}

	if time.Now().After(s.connectBy) {
		s.state = StateDisconnected
		s.fail("connect", fmt.Errorf("connect timed out"))
		return true, false
	}

	return false, false
}

// Unread prepends bytes to the pushback buffer (LIFO at the front), per
// §4.2/§9. It must be consumed before any new system read.
func (s *Socket) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	s.pushback = append(append([]byte{}, b...), s.pushback...)
}

// ReadNonblocking drains the pushback buffer first, then issues at most
// one read with a one-millisecond deadline. It returns the bytes read
// (possibly from pushback only); a timeout yields no bytes and no error,
// any other read failure is returned as a network error.
func (s *Socket) ReadNonblocking(maxLen int) ([]byte, error) {
	if len(s.pushback) > 0 {
		n := len(s.pushback)
		if n > maxLen {
			n = maxLen
		}
		out := s.pushback[:n]
		s.pushback = s.pushback[n:]
		return out, nil
	}

	if s.conn == nil {
		return nil, s.fail("read", fmt.Errorf("not connected"))
	}

	s.state = StateReading
	buf := make([]byte, maxLen)
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Read(buf)
	s.state = StateConnected

	if n > 0 {
		s.touch()
	}
	if err != nil {
		if isTimeout(err) {
			return buf[:n], nil
		}
		return buf[:n], s.fail("read", err)
	}
	return buf[:n], nil
}

// ReadBlocking waits up to timeout for readability, draining pushback
// first, then performs one blocking read.
func (s *Socket) ReadBlocking(maxLen int, timeout time.Duration) ([]byte, error) {
	if len(s.pushback) > 0 {
		n := len(s.pushback)
		if n > maxLen {
			n = maxLen
		}
		out := s.pushback[:n]
		s.pushback = s.pushback[n:]
		return out, nil
	}

	if s.conn == nil {
		return nil, s.fail("read", fmt.Errorf("not connected"))
	}

	s.state = StateReading
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, maxLen)
	n, err := s.conn.Read(buf)
	s.state = StateConnected

	if err != nil {
		if isTimeout(err) {
			return nil, s.fail("read", liberrors.ErrReadTimeout{})
		}
		return nil, s.fail("read", err)
	}
	s.touch()
	return buf[:n], nil
}

// WriteNonblocking writes b with a one-millisecond deadline. A short write is
// reported as a network error per §4.2 — callers never resume partial
// writes (see the Presentation's retransmission policy instead).
func (s *Socket) WriteNonblocking(b []byte) error {
	return s.write(b, 0)
}

// WriteBlocking writes b, waiting up to timeout.
func (s *Socket) WriteBlocking(b []byte, timeout time.Duration) error {
	return s.write(b, timeout)
}

func (s *Socket) write(b []byte, timeout time.Duration) error {
	if s.conn == nil {
		return s.fail("write", fmt.Errorf("not connected"))
	}

	s.state = StateWriting
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		// A deadline of exactly now fails the write before it is attempted;
		// a one-millisecond deadline lets the syscall run without waiting.
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	}

	n, err := s.conn.Write(b)
	s.state = StateConnected

	if err != nil {
		return s.fail("write", err)
	}
	if n != len(b) {
		return s.fail("write", liberrors.ErrShortWrite{Wanted: len(b), Wrote: n})
	}
	s.touch()
	return nil
}

// Disconnect closes the handle, records last-active, and transitions to
// Disconnected.
func (s *Socket) Disconnect() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.touch()
	s.state = StateDisconnected
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
