package headers

import (
	"fmt"
	"strconv"
	"strings"
)

// TransportMode is the "play"/"record" mode parameter of a Transport
// header.
type TransportMode int

const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

func (m TransportMode) String() string {
	switch m {
	case TransportModePlay:
		return "play"
	case TransportModeRecord:
		return "record"
	default:
		return "unknown"
	}
}

// TransportProtocol is the lower-level transport named in a Transport
// header ("RTP/AVP" variants).
type TransportProtocol int

const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// Transport is a parsed Transport header.
type Transport struct {
	Protocol       TransportProtocol
	Unicast        bool
	Multicast      bool
	Destination    *string
	TTL            *uint
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	InterleavedIDs *[2]int
	Mode           *TransportMode
}

// ReadTransport parses a Transport header value.
func ReadTransport(v string) (*Transport, error) {
	parts := strings.Split(v, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("headers: empty transport value")
	}

	t := &Transport{}

	switch parts[0] {
	case "RTP/AVP", "RTP/AVP/UDP":
		t.Protocol = TransportProtocolUDP
	case "RTP/AVP/TCP":
		t.Protocol = TransportProtocolTCP
	default:
		return nil, fmt.Errorf("headers: invalid transport protocol %q", parts[0])
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)

		switch {
		case part == "unicast":
			t.Unicast = true

		case part == "multicast":
			t.Multicast = true

		case strings.HasPrefix(part, "destination="):
			v := strings.TrimPrefix(part, "destination=")
			t.Destination = &v

		case strings.HasPrefix(part, "ttl="):
			v, err := strconv.ParseUint(strings.TrimPrefix(part, "ttl="), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("headers: invalid ttl: %w", err)
			}
			uv := uint(v)
			t.TTL = &uv

		case strings.HasPrefix(part, "client_port="):
			ports, err := parsePortPair(strings.TrimPrefix(part, "client_port="))
			if err != nil {
				return nil, err
			}
			t.ClientPorts = ports

		case strings.HasPrefix(part, "server_port="):
			ports, err := parsePortPair(strings.TrimPrefix(part, "server_port="))
			if err != nil {
				return nil, err
			}
			t.ServerPorts = ports

		case strings.HasPrefix(part, "interleaved="):
			ports, err := parsePortPair(strings.TrimPrefix(part, "interleaved="))
			if err != nil {
				return nil, err
			}
			t.InterleavedIDs = ports

		case part == "mode=play", part == `mode="PLAY"`:
			m := TransportModePlay
			t.Mode = &m

		case part == "mode=record", part == `mode="RECORD"`:
			m := TransportModeRecord
			t.Mode = &m
		}
	}

	return t, nil
}

func parsePortPair(v string) (*[2]int, error) {
	pieces := strings.SplitN(v, "-", 2)
	if len(pieces) != 2 {
		return nil, fmt.Errorf("headers: invalid port pair %q", v)
	}
	a, err := strconv.Atoi(pieces[0])
	if err != nil {
		return nil, fmt.Errorf("headers: invalid port %q", pieces[0])
	}
	b, err := strconv.Atoi(pieces[1])
	if err != nil {
		return nil, fmt.Errorf("headers: invalid port %q", pieces[1])
	}
	return &[2]int{a, b}, nil
}

// Write serialises the header back to wire form.
func (t *Transport) Write() string {
	var b strings.Builder
	switch t.Protocol {
	case TransportProtocolTCP:
		b.WriteString("RTP/AVP/TCP")
	default:
		b.WriteString("RTP/AVP")
	}

	if t.Unicast {
		b.WriteString(";unicast")
	}
	if t.Multicast {
		b.WriteString(";multicast")
	}
	if t.Destination != nil {
		fmt.Fprintf(&b, ";destination=%s", *t.Destination)
	}
	if t.TTL != nil {
		fmt.Fprintf(&b, ";ttl=%d", *t.TTL)
	}
	if t.ClientPorts != nil {
		fmt.Fprintf(&b, ";client_port=%d-%d", t.ClientPorts[0], t.ClientPorts[1])
	}
	if t.ServerPorts != nil {
		fmt.Fprintf(&b, ";server_port=%d-%d", t.ServerPorts[0], t.ServerPorts[1])
	}
	if t.InterleavedIDs != nil {
		fmt.Fprintf(&b, ";interleaved=%d-%d", t.InterleavedIDs[0], t.InterleavedIDs[1])
	}
	if t.Mode != nil {
		fmt.Fprintf(&b, ";mode=%s", t.Mode.String())
	}

	return b.String()
}
