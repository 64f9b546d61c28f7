package base

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestWriteSetsContentLength(t *testing.T) {
	u, _, _, err := ParseURL("rtsp://h/a")
	require.NoError(t, err)

	req := NewRequest(ANNOUNCE, u)
	req.Header.Add("CSeq", "1")
	req.Body = []byte("v=0\r\n")

	var buf bytes.Buffer
	require.NoError(t, req.Write(&buf))

	out := buf.String()
	require.Contains(t, out, "ANNOUNCE rtsp://h/a RTSP/1.0\r\n")
	require.Contains(t, out, "Content-Length: 5\r\n")
	require.True(t, strings.HasSuffix(out, "v=0\r\n"))
}

func TestRequestRoundTrip(t *testing.T) {
	u, _, _, err := ParseURL("rtsp://h/a")
	require.NoError(t, err)

	req := NewRequest(DESCRIBE, u)
	req.Header.Add("CSeq", "1")
	req.Header.Add("Accept", "application/sdp, application/rtsl, application/mheg")

	var buf bytes.Buffer
	require.NoError(t, req.Write(&buf))

	rb := bufio.NewReader(&buf)
	line, err := readCRLFLine(rb, maxHeaderLine)
	require.NoError(t, err)

	kind, tokens := DiscriminateStartLine(line)
	require.Equal(t, StartLineRequest, kind)

	parsed, err := ReadRequestFull(rb, tokens)
	require.NoError(t, err)
	require.Equal(t, DESCRIBE, parsed.Method)
	require.Equal(t, "rtsp://h/a", parsed.URL.String())
	cseq, _ := parsed.Header.GetFirst("CSeq")
	require.Equal(t, "1", cseq)
}

func TestRequestWriteDefaultsToStar(t *testing.T) {
	req := &Request{Method: OPTIONS, Header: NewHeaderStore()}
	var buf bytes.Buffer
	require.NoError(t, req.Write(&buf))
	require.True(t, strings.HasPrefix(buf.String(), "OPTIONS * RTSP/1.0\r\n"))
}
