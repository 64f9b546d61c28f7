package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseWriteAndParse(t *testing.T) {
	res := NewResponse(200, "OK")
	res.Header.Add("CSeq", "1")
	res.Content = []byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n")

	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))

	rb := bufio.NewReader(&buf)
	req, parsed, err := ReadMessage(rb)
	require.NoError(t, err)
	require.Nil(t, req)
	require.NotNil(t, parsed)

	require.Equal(t, "1.0", parsed.Version)
	require.Equal(t, 200, parsed.StatusCode)
	require.Equal(t, "OK", parsed.Reason)
	require.True(t, parsed.OK())
	require.Equal(t, res.Content, parsed.Content)
}

func TestResponseOK(t *testing.T) {
	require.True(t, (&Response{StatusCode: 200}).OK())
	require.True(t, (&Response{StatusCode: 299}).OK())
	require.False(t, (&Response{StatusCode: 300}).OK())
	require.False(t, (&Response{StatusCode: 199}).OK())
}

func TestReadMessageDiscriminatesServerRequest(t *testing.T) {
	raw := "ANNOUNCE rtsp://h/a RTSP/1.0\r\nCSeq: 7\r\nContent-Length: 0\r\n\r\n"
	rb := bufio.NewReader(bytes.NewBufferString(raw))

	req, res, err := ReadMessage(rb)
	require.NoError(t, err)
	require.Nil(t, res)
	require.NotNil(t, req)
	require.Equal(t, ANNOUNCE, req.Method)

	cseq, _ := req.Header.GetFirst("CSeq")
	require.Equal(t, "7", cseq)
}

func TestReadMessageMalformedStartLine(t *testing.T) {
	rb := bufio.NewReader(bytes.NewBufferString("garbage line here\r\n"))
	_, _, err := ReadMessage(rb)
	require.Error(t, err)
}
