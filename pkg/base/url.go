package base

import (
	"fmt"
	"net/url"
	"strings"
)

// TransportKind is the network transport a Presentation uses for RTSP
// control messages, distinct from the media transport negotiated in a
// Transport header.
type TransportKind int

const (
	// TransportStream carries RTSP control messages over TCP ("rtsp://").
	TransportStream TransportKind = iota
	// TransportDatagram carries RTSP control messages over UDP ("rtspu://").
	TransportDatagram
)

// String implements fmt.Stringer.
func (k TransportKind) String() string {
	switch k {
	case TransportStream:
		return "stream"
	case TransportDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// URL is an RTSP URL. It is an HTTP-shaped URL whose scheme is rtsp or
// rtspu.
type URL url.URL

// ParseURL parses an RTSP URL. A missing scheme is treated as "rtsp".
// A scheme other than "rtsp"/"rtspu" is accepted, treated as stream
// transport, and reported through the returned bool so the caller can
// raise a warning (§6).
func ParseURL(s string) (*URL, TransportKind, bool, error) {
	if !strings.Contains(s, "://") {
		s = "rtsp://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, TransportStream, false, fmt.Errorf("base: invalid URL: %w", err)
	}

	warn := false
	switch u.Scheme {
	case "rtsp":
	case "rtspu":
	default:
		warn = true
	}

	kind := TransportStream
	if u.Scheme == "rtspu" {
		kind = TransportDatagram
	}

	return (*URL)(u), kind, warn, nil
}

// MustParseURL is like ParseURL but panics on error. Intended for tests
// and constants.
func MustParseURL(s string) *URL {
	u, _, _, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	nu := *(*url.URL)(u)
	return (*URL)(&nu)
}

// CloneWithoutCredentials returns a copy of u with User stripped, the form
// that belongs on the wire in a request line.
func (u *URL) CloneWithoutCredentials() *URL {
	nu := *(*url.URL)(u)
	nu.User = nil
	return (*URL)(&nu)
}

// Hostport returns host and port, applying the RTSP default port (554)
// when none is present.
func (u *URL) Hostport() (string, string) {
	asURL := (*url.URL)(u)
	host := asURL.Hostname()
	port := asURL.Port()
	if port == "" {
		port = "554"
	}
	return host, port
}
