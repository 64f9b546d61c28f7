package base

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// StartLineKind distinguishes a Response start-line (status line) from a
// server-initiated Request start-line (request line).
type StartLineKind int

const (
	// StartLineMalformed means the line matched neither shape.
	StartLineMalformed StartLineKind = iota
	StartLineResponse
	StartLineRequest
)

var versionPattern = regexp.MustCompile(`^RTSP/\d+\.\d+$`)

// DiscriminateStartLine classifies a raw start line (without the trailing
// CRLF) per §4.4: split on space with a limit of 3; if the first token
// looks like "RTSP/<major>.<minor>" it's a Response (tokens are
// version/code/reason); if the third token does, it's a Request (tokens
// are method/url/version); otherwise malformed.
func DiscriminateStartLine(line string) (StartLineKind, [3]string) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return StartLineMalformed, [3]string{}
	}

	var tokens [3]string
	copy(tokens[:], parts)

	if versionPattern.MatchString(parts[0]) {
		return StartLineResponse, tokens
	}
	if versionPattern.MatchString(parts[2]) {
		return StartLineRequest, tokens
	}
	return StartLineMalformed, tokens
}

// ReadMessage performs one full, blocking read of either a Request or a
// Response from rb, per the discrimination rule above. Exactly one of the
// two return values is non-nil on success.
func ReadMessage(rb *bufio.Reader) (*Request, *Response, error) {
	line, err := readCRLFLine(rb, maxHeaderLine)
	if err != nil {
		return nil, nil, err
	}

	kind, tokens := DiscriminateStartLine(line)
	switch kind {
	case StartLineResponse:
		res, err := ReadResponseFull(rb, tokens)
		return nil, res, err
	case StartLineRequest:
		req, err := ReadRequestFull(rb, tokens)
		return req, nil, err
	default:
		return nil, nil, fmt.Errorf("base: malformed start line %q", line)
	}
}
