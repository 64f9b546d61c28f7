package rtspengine

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/stretchr/testify/require"
)

// serverReply reads one request off conn using the blocking base reader
// and writes back a canned 200 OK response with the same CSeq.
func serverReply(t *testing.T, conn net.Conn, extraHeaders map[string]string) {
	t.Helper()
	rb := bufio.NewReader(conn)
	req, _, err := base.ReadMessage(rb)
	require.NoError(t, err)

	cseq, _ := req.Header.GetFirst("CSeq")
	resp := base.NewResponse(200, "OK")
	resp.Header.Set("CSeq", cseq, 0)
	for k, v := range extraHeaders {
		resp.Header.Set(k, v, 0)
	}
	require.NoError(t, resp.Write(conn))
}

func dialedPresentation(t *testing.T) (*Presentation, *EventLoop, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	serverSide := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverSide <- c
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	sock := NewSocket(base.TransportStream, host, port)
	require.NoError(t, sock.ConnectBlocking(2*time.Second))

	conn := <-serverSide

	el := NewEventLoop(8)
	u := base.MustParseURL("rtsp://" + ln.Addr().String() + "/stream")
	p := NewPresentation(sock, el, u, 4096)

	return p, el, conn
}

func pumpUntil(el *EventLoop, deadline time.Duration, done func() bool) {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		el.RunCycle(time.Now())
		if done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBlockingStyleDescribeRoundTrip(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()

	go serverReply(t, conn, map[string]string{"Content-Base": "rtsp://host/stream/"})

	var got *base.Response
	require.NoError(t, p.Describe(func(r *base.Response) { got = r }, func(error) { t.Fatal("describe failed") }))

	pumpUntil(el, 2*time.Second, func() bool { return got != nil })
	require.NotNil(t, got)
	require.True(t, got.OK())
}

func TestPipelinedPairMatchedInOrder(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()
	p.Pipelining = true

	go func() {
		rb := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			req, _, err := base.ReadMessage(rb)
			if err != nil {
				return
			}
			cseq, _ := req.Header.GetFirst("CSeq")
			resp := base.NewResponse(200, "OK")
			resp.Header.Set("CSeq", cseq, 0)
			_ = resp.Write(conn)
		}
	}()

	var firstDone, secondDone bool
	var order []string
	require.NoError(t, p.Options(func(*base.Response) { firstDone = true; order = append(order, "first") }, func(error) {}))
	require.NoError(t, p.Options(func(*base.Response) { secondDone = true; order = append(order, "second") }, func(error) {}))

	pumpUntil(el, 2*time.Second, func() bool { return firstDone && secondDone })
	require.True(t, firstDone)
	require.True(t, secondDone)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestNonPipelinedSecondRequestWaitsForFirstResponse(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()

	reqCh := make(chan *base.Request, 2)
	go func() {
		rb := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			req, _, err := base.ReadMessage(rb)
			if err != nil {
				return
			}
			reqCh <- req
			cseq, _ := req.Header.GetFirst("CSeq")
			resp := base.NewResponse(200, "OK")
			resp.Header.Set("CSeq", cseq, 0)
			_ = resp.Write(conn)
		}
	}()

	var firstDone, secondDone bool
	require.NoError(t, p.Options(func(*base.Response) { firstDone = true }, func(error) {}))
	require.NoError(t, p.Options(func(*base.Response) { secondDone = true }, func(error) {}))

	first := <-reqCh
	require.False(t, secondDone, "second request must not complete before the first response arrives")
	_ = first

	pumpUntil(el, 2*time.Second, func() bool { return firstDone && secondDone })
	require.True(t, firstDone)
	require.True(t, secondDone)
}

func TestServerInitiatedRequestDelivered(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()

	var incoming *base.Request
	p.OnIncomingRequest = func(r *base.Request) { incoming = r }

	go func() {
		req := base.NewRequest(base.ANNOUNCE, base.MustParseURL("rtsp://host/stream"))
		req.Header.Set("CSeq", "7", 0)
		_ = req.Write(conn)
	}()

	pumpUntil(el, 2*time.Second, func() bool { return incoming != nil })
	require.NotNil(t, incoming)
	require.Equal(t, base.ANNOUNCE, incoming.Method)
}

func TestPipeliningFlushesQueuedRequestsInOneWrite(t *testing.T) {
	p, el, conn := dialedPresentation(t)
	defer conn.Close()
	p.Pipelining = true

	writeCount := make(chan int, 1)
	go func() {
		rb := bufio.NewReader(conn)
		n := 0
		for i := 0; i < 3; i++ {
			req, _, err := base.ReadMessage(rb)
			if err != nil {
				break
			}
			n++
			cseq, _ := req.Header.GetFirst("CSeq")
			resp := base.NewResponse(200, "OK")
			resp.Header.Set("CSeq", cseq, 0)
			_ = resp.Write(conn)
		}
		writeCount <- n
	}()

	var done [3]bool
	require.NoError(t, p.Options(func(*base.Response) { done[0] = true }, func(error) {}))
	require.NoError(t, p.Options(func(*base.Response) { done[1] = true }, func(error) {}))
	require.NoError(t, p.Options(func(*base.Response) { done[2] = true }, func(error) {}))

	// All three requests were queued before a single EventLoop cycle ran,
	// so they must leave the wire as one concatenated write rather than
	// three separate ones.
	require.Equal(t, 3, len(p.pendingOut))

	pumpUntil(el, 2*time.Second, func() bool { return done[0] && done[1] && done[2] })
	require.True(t, done[0])
	require.True(t, done[1])
	require.True(t, done[2])
	require.Equal(t, 3, <-writeCount)
}

func TestDigestChallengeRetriesWithAuthorization(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverSide := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverSide <- c
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	sock := NewSocket(base.TransportStream, host, port)
	require.NoError(t, sock.ConnectBlocking(2*time.Second))
	conn := <-serverSide
	defer conn.Close()

	el := NewEventLoop(8)
	u := base.MustParseURL("rtsp://user:pass@" + ln.Addr().String() + "/stream")
	p := NewPresentation(sock, el, u, 4096)

	go func() {
		rb := bufio.NewReader(conn)

		req, _, err := base.ReadMessage(rb)
		if err != nil {
			return
		}
		cseq, _ := req.Header.GetFirst("CSeq")
		unauthorized := base.NewResponse(401, "Unauthorized")
		unauthorized.Header.Set("CSeq", cseq, 0)
		unauthorized.Header.Add("WWW-Authenticate", `Digest realm="test", nonce="abc123"`)
		_ = unauthorized.Write(conn)

		req2, _, err := base.ReadMessage(rb)
		if err != nil {
			return
		}
		auth, ok := req2.Header.GetFirst("Authorization")
		if !ok || !strings.HasPrefix(auth, "Digest ") {
			return
		}
		cseq2, _ := req2.Header.GetFirst("CSeq")
		ok2 := base.NewResponse(200, "OK")
		ok2.Header.Set("CSeq", cseq2, 0)
		_ = ok2.Write(conn)
	}()

	var got *base.Response
	require.NoError(t, p.Describe(func(r *base.Response) { got = r }, func(error) { t.Fatal("describe failed") }))

	pumpUntil(el, 2*time.Second, func() bool { return got != nil })
	require.NotNil(t, got)
	require.True(t, got.OK())
}

func TestUDPRetransmitsUnacknowledgedRequest(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	sock := NewSocket(base.TransportDatagram, "", "")
	udpConn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	sock.conn = udpConn
	sock.state = StateConnected

	el := NewEventLoop(4)
	u := base.MustParseURL("rtspu://" + pc.LocalAddr().String() + "/stream")
	p := NewPresentation(sock, el, u, 2048)
	p.Timeout = 20 * time.Millisecond

	require.NoError(t, p.Options(func(*base.Response) {}, func(error) {}))

	buf := make([]byte, 2048)
	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = pc.ReadFrom(buf)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		el.RunCycle(now.Add(time.Duration(i+1) * 25 * time.Millisecond))
	}

	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}
