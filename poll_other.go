//go:build !unix

package rtspengine

import "time"

// pollReadiness falls back to a zero-deadline probe read/write on
// platforms without poll(2) (i.e. Windows). Readability is detected by
// attempting a tiny non-blocking read and pushing back anything read;
// writability is assumed available, since net.Conn exposes no portable
// writable-readiness primitive and short writes are already handled as
// network errors by Socket.write.
func pollReadiness(sockets []*Socket, wantWrite []bool) (readable, writable map[*Socket]bool) {
	readable = make(map[*Socket]bool)
	writable = make(map[*Socket]bool)

	probe := make([]byte, 1)
	for i, s := range sockets {
		if s.conn == nil {
			continue
		}
		if wantWrite[i] {
			writable[s] = true
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := s.conn.Read(probe)
		if n > 0 {
			s.Unread(probe[:n])
			readable[s] = true
		} else if err != nil && !isTimeout(err) {
			s.fail("read", err)
		}
	}
	return readable, writable
}
