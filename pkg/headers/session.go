// Package headers parses and serialises the structured RTSP headers the
// engine's core needs to interpret directly: Session and Transport.
package headers

import (
	"fmt"
	"strconv"
	"strings"
)

// Session is a parsed Session header: the server-assigned session id, plus
// an optional timeout in seconds.
type Session struct {
	Session string
	Timeout *uint
}

// ReadSession parses a Session header value, e.g. "ABC123;timeout=60".
func ReadSession(in string) (*Session, error) {
	parts := strings.Split(in, ";")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("headers: empty session value")
	}

	hs := &Session{Session: parts[0]}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] != "timeout" {
			return nil, fmt.Errorf("headers: invalid session parameter %q", part)
		}

		v, err := strconv.ParseUint(kv[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("headers: invalid session timeout %q: %w", kv[1], err)
		}
		uv := uint(v)
		hs.Timeout = &uv
	}

	return hs, nil
}

// Write serialises the header back to wire form.
func (hs *Session) Write() string {
	if hs.Timeout == nil {
		return hs.Session
	}
	return fmt.Sprintf("%s;timeout=%d", hs.Session, *hs.Timeout)
}
