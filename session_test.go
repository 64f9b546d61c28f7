package rtspengine

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/nrtsp/rtspengine/pkg/headers"
	"github.com/stretchr/testify/require"
)

// sessionServer answers SETUP with a Session header, and any other
// request by echoing its CSeq back with 200 OK.
func sessionServer(t *testing.T, conn net.Conn, sessionID string, seen chan<- *base.Request) {
	t.Helper()
	rb := bufio.NewReader(conn)
	for {
		req, _, err := base.ReadMessage(rb)
		if err != nil {
			return
		}
		seen <- req

		cseq, _ := req.Header.GetFirst("CSeq")
		resp := base.NewResponse(200, "OK")
		resp.Header.Set("CSeq", cseq, 0)
		if req.Method == base.SETUP {
			resp.Header.Set("Session", sessionID+";timeout=60", 0)
		}
		_ = resp.Write(conn)
	}
}

func TestSessionBuffersRequestsUntilSetupCompletes(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()
	p.Pipelining = true

	seen := make(chan *base.Request, 8)
	go sessionServer(t, conn, "ABC123", seen)

	sess := NewSession(p)
	require.Equal(t, SessionInactive, sess.State())

	var playDone bool
	sess.Play(func(*base.Response) { playDone = true }, func(error) {})
	require.Equal(t, SessionInactive, sess.State())

	trackURL := base.MustParseURL(p.ResolveURL("track1"))
	transport := &headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Unicast:     true,
		ClientPorts: &[2]int{8000, 8001},
	}
	require.NoError(t, sess.Setup(trackURL, transport, nil, func(error) {}))

	pumpUntil(el, 2*time.Second, func() bool { return playDone })

	require.Equal(t, SessionPlaying, sess.State())
	require.Equal(t, "ABC123", sess.ID())

	setupReq := <-seen
	require.Equal(t, base.SETUP, setupReq.Method)

	playReq := <-seen
	require.Equal(t, base.PLAY, playReq.Method)
	sessionHeader, ok := playReq.Header.GetFirst("Session")
	require.True(t, ok)
	require.Equal(t, "ABC123", sessionHeader)
}

func TestSessionStateMachineTransitions(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()

	seen := make(chan *base.Request, 8)
	go sessionServer(t, conn, "XYZ", seen)

	sess := NewSession(p)
	trackURL := base.MustParseURL(p.ResolveURL("track1"))
	transport := &headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		Unicast:        true,
		InterleavedIDs: &[2]int{0, 1},
	}

	var setupDone bool
	require.NoError(t, sess.Setup(trackURL, transport, func(*base.Response) { setupDone = true }, func(error) {}))
	pumpUntil(el, 2*time.Second, func() bool { return setupDone })
	require.Equal(t, SessionReady, sess.State())

	var playDone bool
	sess.Play(func(*base.Response) { playDone = true }, func(error) {})
	pumpUntil(el, 2*time.Second, func() bool { return playDone })
	require.Equal(t, SessionPlaying, sess.State())

	var pauseDone bool
	sess.Pause(func(*base.Response) { pauseDone = true }, func(error) {})
	pumpUntil(el, 2*time.Second, func() bool { return pauseDone })
	require.Equal(t, SessionPaused, sess.State())

	var tornDown bool
	sess.Teardown(func(*base.Response) { tornDown = true }, func(error) {})
	pumpUntil(el, 2*time.Second, func() bool { return tornDown })
	require.Equal(t, SessionInactive, sess.State())
	require.Equal(t, "", sess.ID())
}
