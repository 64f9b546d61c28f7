//go:build unix

package rtspengine

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// rawFD extracts the underlying file descriptor of a Socket's connection,
// mirroring the SyscallConn().Control() idiom used for socket-option
// tuning (gortsplib's client_udp_listener_unix.go).
func rawFD(s *Socket) (int, bool) {
	if s.conn == nil {
		return 0, false
	}
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rawConn, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}

	var fd int
	var found bool
	_ = rawConn.Control(func(f uintptr) {
		fd = int(f)
		found = true
	})
	return fd, found
}

// pollReadiness asks the kernel, in a single zero-timeout poll(2) call,
// which of the given sockets are currently readable or writable. Sockets
// whose fd cannot be extracted (e.g. still Connecting) are skipped; the
// EventLoop handles those through PollConnect instead.
func pollReadiness(sockets []*Socket, wantWrite []bool) (readable, writable map[*Socket]bool) {
	readable = make(map[*Socket]bool)
	writable = make(map[*Socket]bool)

	fds := make([]unix.PollFd, 0, len(sockets))
	owners := make([]*Socket, 0, len(sockets))

	for i, s := range sockets {
		fd, ok := rawFD(s)
		if !ok {
			continue
		}
		events := int16(unix.POLLIN)
		if wantWrite[i] {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		owners = append(owners, s)
	}

	if len(fds) == 0 {
		return readable, writable
	}

	// Zero timeout: a single non-blocking readiness snapshot, never a wait,
	// per the EventLoop's cooperative-cycle invariant.
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 {
		return readable, writable
	}

	for i, pfd := range fds {
		if pfd.Revents&unix.POLLIN != 0 {
			readable[owners[i]] = true
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			writable[owners[i]] = true
		}
	}
	return readable, writable
}
