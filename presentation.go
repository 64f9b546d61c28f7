package rtspengine

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nrtsp/rtspengine/pkg/auth"
	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/nrtsp/rtspengine/pkg/headers"
	"github.com/nrtsp/rtspengine/pkg/liberrors"
	"golang.org/x/time/rate"
)

// parseState is the incoming-message incremental state machine (§4.5):
// AwaitStartLine -> AwaitHeaders -> AwaitBody -> Finalise.
type parseState int

const (
	AwaitStartLine parseState = iota
	AwaitHeaders
	AwaitBody
	Finalise
)

type pendingRequest struct {
	req       *base.Request
	onSuccess func(*base.Response)
	onFailure func(error)

	// authRetried marks that this request has already been resent once
	// with an Authorization header; a second 401 is delivered to the
	// caller rather than retried, to avoid looping against a server that
	// rejects the credentials outright.
	authRetried bool
}

// Presentation is a single RTSP control connection: the CSeq-disciplined
// request/response cycle, pipelining, the incremental parser, and (for
// rtspu) timeout-driven UDP retransmission (§4.5). It holds a non-owning
// reference to its Socket; the EventLoop owns the socket's lifecycle.
type Presentation struct {
	sock *Socket
	el   *EventLoop
	url  *base.URL

	Pipelining bool
	Timeout    time.Duration

	cseq   int
	active []*pendingRequest // FIFO of requests awaiting a response

	// pendingOut holds the serialised bytes of requests queued while
	// Pipelining is on but not yet flushed to the wire, alongside the
	// pendingRequest each buffer belongs to. handleWritable drains all of
	// it into a single write per dispatch cycle (§4.5).
	pendingOut     [][]byte
	pendingOutReqs []*pendingRequest

	parseState parseState
	buf        []byte
	curKind    base.StartLineKind
	curTokens  [3]string
	curHeaders *base.HeaderStore
	contentLen int
	bodyBuf    []byte
	bufferSize int

	retransLimiter *rate.Limiter
	pendingAfterID map[*pendingRequest]AfterID

	username, password string
	authClient         *auth.Client

	terminated bool

	// OnIncomingRequest is invoked when the peer sends a server-initiated
	// request (e.g. ANNOUNCE); the caller replies via SendResponse.
	OnIncomingRequest func(*base.Request)
	// OnProtocolError surfaces errors not delivered to a pending request's
	// failure callback: parse failures and network errors with no request
	// awaiting a response, and 401 challenges naming an unsupported
	// authentication method.
	OnProtocolError func(error)
}

// NewPresentation wraps sock for use as an RTSP control connection to url.
// bufferSize bounds both the size of each non-blocking read and the
// per-step body consumption inside the incremental parser; <= 0 falls
// back to 4096. Credentials for a later Digest/Basic challenge, if any,
// are taken from url's userinfo.
func NewPresentation(sock *Socket, el *EventLoop, url *base.URL, bufferSize int) *Presentation {
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	var username, password string
	if url.User != nil {
		username = url.User.Username()
		password, _ = url.User.Password()
	}

	p := &Presentation{
		sock:           sock,
		el:             el,
		url:            url,
		username:       username,
		password:       password,
		Timeout:        60 * time.Second,
		bufferSize:     bufferSize,
		pendingAfterID: make(map[*pendingRequest]AfterID),
		retransLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
	sock.OnReadable = p.handleReadable
	sock.OnWritable = p.handleWritable
	sock.OnNetworkErr = p.handleNetworkError
	el.AddSocket(sock, false)
	return p
}

func (p *Presentation) nextCSeq() int {
	p.cseq++
	return p.cseq
}

// sendRequest is the common path for every public operation: it assigns
// CSeq and appends to the active FIFO. With pipelining on, the write is
// queued and flushed by handleWritable the next time the socket is
// writable, batching every request queued meanwhile into one write
// (§4.5, Scenario 2). Without pipelining, a request is written
// immediately only if nothing else is in flight; otherwise it waits for
// drainQueuedWrite once the previous response lands.
func (p *Presentation) sendRequest(req *base.Request, onSuccess func(*base.Response), onFailure func(error)) error {
	if p.terminated {
		return liberrors.ErrPresentationTerminated{}
	}

	req.Header.Set("CSeq", strconv.Itoa(p.nextCSeq()), 0)
	pr := &pendingRequest{req: req, onSuccess: onSuccess, onFailure: onFailure}

	if p.Pipelining {
		p.active = append(p.active, pr)
		p.queueWrite(pr)
		return nil
	}

	if len(p.active) > 0 {
		// A request is already in flight; queue it and the drain in
		// handleResponse will flush it once that response lands.
		p.active = append(p.active, pr)
		return nil
	}

	var out bytes.Buffer
	if err := req.Write(&out); err != nil {
		return err
	}
	if err := p.writeOut(out.Bytes()); err != nil {
		return err
	}
	req.TimeSent = time.Now()
	p.active = append(p.active, pr)

	if p.sock.Kind == base.TransportDatagram {
		p.armRetransmit(pr, out.Bytes())
	}

	return nil
}

func (p *Presentation) writeOut(b []byte) error {
	return p.sock.WriteNonblocking(b)
}

// queueWrite serialises pr's request and appends it to the pending
// writer-dispatch queue, arming the socket for a writable event. It does
// not write anything itself — handleWritable does, draining the whole
// queue in one write.
func (p *Presentation) queueWrite(pr *pendingRequest) {
	var out bytes.Buffer
	if err := pr.req.Write(&out); err != nil {
		p.failPending(pr, err)
		return
	}
	p.pendingOut = append(p.pendingOut, out.Bytes())
	p.pendingOutReqs = append(p.pendingOutReqs, pr)
	p.el.SetWantWrite(p.sock, true)
}

// handleWritable is the writer dispatch cycle (§4.5): it runs at most once
// per EventLoop cycle and concatenates everything queued since the last
// flush into a single write, so pipelined requests issued back-to-back
// reach the wire together rather than as separate syscalls.
func (p *Presentation) handleWritable() {
	if len(p.pendingOut) == 0 {
		p.el.SetWantWrite(p.sock, false)
		return
	}

	var out bytes.Buffer
	for _, b := range p.pendingOut {
		out.Write(b)
	}
	bufs := p.pendingOut
	prs := p.pendingOutReqs
	p.pendingOut = nil
	p.pendingOutReqs = nil
	p.el.SetWantWrite(p.sock, false)

	if err := p.writeOut(out.Bytes()); err != nil {
		for _, pr := range prs {
			p.failPending(pr, err)
		}
		return
	}

	now := time.Now()
	for i, pr := range prs {
		pr.req.TimeSent = now
		if p.sock.Kind == base.TransportDatagram {
			p.armRetransmit(pr, bufs[i])
		}
	}
}

// armRetransmit schedules a resend of b after Timeout has elapsed unless
// pr.req.Acknowledged has been set by the start line of its response in
// the meantime (§4.5 UDP retransmission, §9 Open Question decision: the
// round-trip bound is the configured Timeout, additionally paced by a
// token-bucket limiter allowing one retransmission per 200ms across the
// presentation; a resend the limiter refuses is re-armed for another
// Timeout).
func (p *Presentation) armRetransmit(pr *pendingRequest, b []byte) {
	id := p.el.ScheduleAfter(time.Now(), p.Timeout, func() {
		if pr.req.Acknowledged || p.terminated {
			return
		}
		if !p.retransLimiter.Allow() {
			p.armRetransmit(pr, b)
			return
		}
		if err := p.sock.WriteNonblocking(b); err != nil {
			p.failPending(pr, err)
			return
		}
		p.armRetransmit(pr, b)
	})
	p.pendingAfterID[pr] = id
}

func (p *Presentation) disarmRetransmit(pr *pendingRequest) {
	if id, ok := p.pendingAfterID[pr]; ok {
		p.el.CancelAfter(id)
		delete(p.pendingAfterID, pr)
	}
}

// Describe sends a DESCRIBE request for the presentation's URL.
func (p *Presentation) Describe(onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.DESCRIBE, p.url)
	req.Header.Set("Accept", "application/sdp", 0)
	return p.sendRequest(req, onSuccess, onFailure)
}

// Announce sends an ANNOUNCE request carrying an SDP body.
func (p *Presentation) Announce(sdp []byte, onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.ANNOUNCE, p.url)
	req.Header.Set("Content-Type", "application/sdp", 0)
	req.Body = sdp
	return p.sendRequest(req, onSuccess, onFailure)
}

// Options sends an OPTIONS request.
func (p *Presentation) Options(onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.OPTIONS, p.url)
	return p.sendRequest(req, onSuccess, onFailure)
}

// GetParameter sends a GET_PARAMETER request, used idiomatically as a
// session keep-alive.
func (p *Presentation) GetParameter(onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.GET_PARAMETER, p.url)
	return p.sendRequest(req, onSuccess, onFailure)
}

// SetParameter sends a SET_PARAMETER request with the given raw body.
func (p *Presentation) SetParameter(body []byte, onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.SET_PARAMETER, p.url)
	req.Body = body
	return p.sendRequest(req, onSuccess, onFailure)
}

// SetupSession sends a SETUP request for the given track URL, serialising
// transport via pkg/headers.Transport.Write.
func (p *Presentation) SetupSession(trackURL *base.URL, transport *headers.Transport, onSuccess func(*base.Response), onFailure func(error)) error {
	req := base.NewRequest(base.SETUP, trackURL)
	req.Header.Set("Transport", transport.Write(), 0)
	return p.sendRequest(req, onSuccess, onFailure)
}

// SendRequest sends an arbitrary request, for callers (e.g. Session) that
// need PLAY/PAUSE/RECORD/TEARDOWN with a Session header already attached.
func (p *Presentation) SendRequest(req *base.Request, onSuccess func(*base.Response), onFailure func(error)) error {
	return p.sendRequest(req, onSuccess, onFailure)
}

// SendResponse replies to a server-initiated request (e.g. ANNOUNCE),
// copying its CSeq per RFC 2326.
func (p *Presentation) SendResponse(toCSeq string, resp *base.Response) error {
	if p.terminated {
		return liberrors.ErrPresentationTerminated{}
	}
	resp.Header.Set("CSeq", toCSeq, 0)
	var out bytes.Buffer
	if err := resp.Write(&out); err != nil {
		return err
	}
	return p.sock.WriteNonblocking(out.Bytes())
}

// ResolveURL joins a track control attribute (e.g. from an SDP
// a=control: line) against the presentation's base URL, the way a
// Content-Base-relative SETUP URL is built: an absolute control value is
// returned unchanged, otherwise it is appended to the base path.
func (p *Presentation) ResolveURL(control string) string {
	if strings.Contains(control, "://") {
		return control
	}
	root := strings.TrimSuffix(p.url.String(), "/")
	return root + "/" + strings.TrimPrefix(control, "/")
}

// Terminate marks the presentation closed; further operations return
// ErrPresentationTerminated, and its socket is disconnected.
func (p *Presentation) Terminate() {
	p.terminated = true
	for _, pr := range p.active {
		p.disarmRetransmit(pr)
		if pr.onFailure != nil {
			pr.onFailure(liberrors.ErrPresentationTerminated{})
		}
	}
	p.active = nil
	p.sock.Disconnect()
}

func (p *Presentation) handleNetworkError(err error) {
	if len(p.active) > 0 {
		pr := p.active[0]
		p.active = p.active[1:]
		p.disarmRetransmit(pr)
		if pr.onFailure != nil {
			pr.onFailure(err)
		}
		return
	}
	if p.OnProtocolError != nil {
		p.OnProtocolError(err)
	}
}

func (p *Presentation) handleReadable() {
	data, err := p.sock.ReadNonblocking(p.bufferSize)
	if err != nil {
		return
	}
	if len(data) == 0 {
		return
	}
	p.buf = append(p.buf, data...)
	p.processBuffer()
}

// processBuffer drives the incremental parser over p.buf, consuming as
// many complete messages as are present and leaving any trailing partial
// message buffered for the next read.
func (p *Presentation) processBuffer() {
	for {
		switch p.parseState {
		case AwaitStartLine:
			idx := bytes.Index(p.buf, []byte("\r\n"))
			if idx < 0 {
				return
			}
			line := string(p.buf[:idx])
			p.buf = p.buf[idx+2:]

			kind, tokens := base.DiscriminateStartLine(line)
			if kind == base.StartLineMalformed {
				p.reportProtocolError(fmt.Errorf("malformed start line: %q", line))
				continue
			}
			if kind == base.StartLineResponse && len(p.active) > 0 {
				p.active[0].req.Acknowledged = true
			}
			p.curKind = kind
			p.curTokens = tokens
			p.parseState = AwaitHeaders

		case AwaitHeaders:
			idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
			if idx < 0 {
				return
			}
			// Keep the terminating empty line: ReadHeaders stops on it.
			headerBytes := p.buf[:idx+4]
			p.buf = p.buf[idx+4:]

			hs, err := base.ReadHeaders(bufio.NewReader(bytes.NewReader(headerBytes)))
			if err != nil {
				p.reportProtocolError(err)
				p.parseState = AwaitStartLine
				continue
			}
			p.curHeaders = hs
			p.contentLen = 0
			if v, ok := hs.GetFirst("Content-Length"); ok {
				n, err := strconv.Atoi(v)
				if err == nil && n > 0 {
					p.contentLen = n
				}
			}
			p.bodyBuf = nil
			p.parseState = AwaitBody

		case AwaitBody:
			// Each step consumes at most bufferSize bytes of the body,
			// mirroring a bounded network read rather than slicing the
			// whole accumulated buffer at once (§4.5).
			remaining := p.contentLen - len(p.bodyBuf)
			take := remaining
			if take > p.bufferSize {
				take = p.bufferSize
			}
			if len(p.buf) < take {
				return
			}
			p.bodyBuf = append(p.bodyBuf, p.buf[:take]...)
			p.buf = p.buf[take:]
			if len(p.bodyBuf) < p.contentLen {
				continue
			}
			body := p.bodyBuf
			p.bodyBuf = nil
			p.finalise(body)
			p.parseState = AwaitStartLine
		}
	}
}

func (p *Presentation) finalise(body []byte) {
	switch p.curKind {
	case base.StartLineResponse:
		resp := &base.Response{
			Version:    stripRTSPPrefix(p.curTokens[0]),
			StatusCode: atoiOrZero(p.curTokens[1]),
			Reason:     p.curTokens[2],
			Header:     p.curHeaders,
			Content:    body,
		}
		p.handleResponse(resp)
	case base.StartLineRequest:
		req := &base.Request{
			Method:  base.Method(p.curTokens[0]),
			Version: stripRTSPPrefix(p.curTokens[2]),
			Header:  p.curHeaders,
			Body:    body,
		}
		if u, _, _, err := base.ParseURL(p.curTokens[1]); err == nil {
			req.URL = u
		}
		if p.OnIncomingRequest != nil {
			p.OnIncomingRequest(req)
		}
	}
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func stripRTSPPrefix(tok string) string {
	const prefix = "RTSP/"
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		return tok[len(prefix):]
	}
	return "1.0"
}

func (p *Presentation) handleResponse(resp *base.Response) {
	if len(p.active) == 0 {
		if p.OnProtocolError != nil {
			p.OnProtocolError(liberrors.ErrProtocol{Reason: "response with no pending request"})
		}
		return
	}

	pr := p.active[0]
	p.active = p.active[1:]
	p.disarmRetransmit(pr)

	if resp.StatusCode == 401 && !pr.authRetried {
		if p.retryWithAuth(pr, resp) {
			return
		}
	}

	pr.req.Acknowledged = true

	if pr.onSuccess != nil {
		pr.onSuccess(resp)
	}

	p.drainQueuedWrite()
}

// retryWithAuth builds an auth.Client from resp's WWW-Authenticate
// challenge(s) and resends pr's request with an Authorization header
// attached, per RFC 2617. It returns false (the 401 should be delivered
// to the caller as-is) when there is no challenge to answer or the
// challenge names a method auth does not implement.
func (p *Presentation) retryWithAuth(pr *pendingRequest, resp *base.Response) bool {
	challenges := resp.Header.GetAll("WWW-Authenticate")
	if len(challenges) == 0 {
		return false
	}

	if p.authClient == nil {
		client, err := auth.NewClient(challenges, p.username, p.password)
		if err != nil {
			method := "unknown"
			if parts := strings.SplitN(challenges[0], " ", 2); len(parts) > 0 && parts[0] != "" {
				method = parts[0]
			}
			if p.OnProtocolError != nil {
				p.OnProtocolError(liberrors.ErrAuthChallengeUnsupported{Method: method})
			}
			return false
		}
		p.authClient = client
	}

	pr.authRetried = true
	pr.req.Header.Set("CSeq", strconv.Itoa(p.nextCSeq()), 0)
	uri := pr.req.URL.CloneWithoutCredentials().String()
	pr.req.Header.Set("Authorization", p.authClient.GenerateHeader(string(pr.req.Method), uri), 0)

	var out bytes.Buffer
	if err := pr.req.Write(&out); err != nil {
		if pr.onFailure != nil {
			pr.onFailure(err)
		}
		return true
	}

	if err := p.writeOut(out.Bytes()); err != nil {
		p.failPending(pr, err)
		return true
	}

	pr.req.TimeSent = time.Now()
	pr.req.Acknowledged = false
	if p.Pipelining {
		p.active = append(p.active, pr)
	} else {
		p.active = append([]*pendingRequest{pr}, p.active...)
	}
	if p.sock.Kind == base.TransportDatagram {
		p.armRetransmit(pr, out.Bytes())
	}
	return true
}

// drainQueuedWrite writes the next queued request when pipelining is
// disabled and the previous one has just been answered.
func (p *Presentation) drainQueuedWrite() {
	if p.Pipelining {
		return
	}
	for _, pr := range p.active {
		if pr.req.TimeSent.IsZero() {
			var out bytes.Buffer
			if err := pr.req.Write(&out); err != nil {
				continue
			}
			if err := p.sock.WriteNonblocking(out.Bytes()); err != nil {
				p.failPending(pr, err)
				return
			}
			pr.req.TimeSent = time.Now()
			if p.sock.Kind == base.TransportDatagram {
				p.armRetransmit(pr, out.Bytes())
			}
		}
		return
	}
}

func (p *Presentation) failPending(pr *pendingRequest, err error) {
	p.disarmRetransmit(pr)
	for i, e := range p.active {
		if e == pr {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	if pr.onFailure != nil {
		pr.onFailure(err)
	}
}

func (p *Presentation) reportProtocolError(err error) {
	wrapped := liberrors.ErrProtocol{Reason: err.Error()}
	if len(p.active) > 0 {
		pr := p.active[0]
		p.active = p.active[1:]
		p.disarmRetransmit(pr)
		if pr.onFailure != nil {
			pr.onFailure(wrapped)
			return
		}
	}
	if p.OnProtocolError != nil {
		p.OnProtocolError(wrapped)
	}
}
