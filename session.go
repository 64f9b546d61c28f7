package rtspengine

import (
	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/nrtsp/rtspengine/pkg/headers"
)

// SessionState is the lifecycle state of a Session, per §4.6.
type SessionState int

const (
	SessionInactive SessionState = iota
	SessionReady
	SessionPlaying
	SessionPaused
	SessionRecording
)

func (s SessionState) String() string {
	switch s {
	case SessionInactive:
		return "inactive"
	case SessionReady:
		return "ready"
	case SessionPlaying:
		return "playing"
	case SessionPaused:
		return "paused"
	case SessionRecording:
		return "recording"
	default:
		return "unknown"
	}
}

type bufferedOp struct {
	fn func(sessionID string)
}

// Session tracks the server-assigned Session id and RTSP session state
// machine layered atop a Presentation (§4.6). Requests issued before
// SETUP has completed are buffered and replayed, annotated with the
// Session header, once the id becomes known.
type Session struct {
	pres      *Presentation
	state     SessionState
	id        string
	transport *headers.Transport

	buffered []bufferedOp
}

// NewSession creates an inactive session bound to pres.
func NewSession(pres *Presentation) *Session {
	return &Session{pres: pres, state: SessionInactive}
}

// State returns the current session state.
func (s *Session) State() SessionState { return s.state }

// ID returns the server-assigned session id, or "" before SETUP completes.
func (s *Session) ID() string { return s.id }

// Transport returns the Transport the server negotiated in the SETUP
// response (which may differ from what was requested, e.g. an assigned
// server_port), or nil before SETUP completes.
func (s *Session) Transport() *headers.Transport { return s.transport }

// Setup sends SETUP for trackURL/transport. On success the session
// becomes Ready, the Session id and negotiated Transport are recorded,
// and any buffered requests are drained with the Session header attached.
func (s *Session) Setup(trackURL *base.URL, transport *headers.Transport, onSuccess func(*base.Response), onFailure func(error)) error {
	return s.pres.SetupSession(trackURL, transport, func(resp *base.Response) {
		if s.id == "" {
			if v, ok := resp.Header.GetFirst("Session"); ok {
				if parsed, err := headers.ReadSession(v); err == nil {
					s.id = parsed.Session
				}
			}
		}
		if v, ok := resp.Header.GetFirst("Transport"); ok {
			if parsed, err := headers.ReadTransport(v); err == nil {
				s.transport = parsed
			}
		}
		if s.state == SessionInactive {
			s.state = SessionReady
		}
		s.drainBuffered()
		if onSuccess != nil {
			onSuccess(resp)
		}
	}, onFailure)
}

// dispatch runs fn immediately if the session has an id, or buffers it
// for replay once SETUP completes, per §4.6/§7; the buffered case is not
// surfaced as a failure.
func (s *Session) dispatch(fn func(sessionID string)) {
	if s.id != "" {
		fn(s.id)
		return
	}
	s.buffered = append(s.buffered, bufferedOp{fn: fn})
}

func (s *Session) drainBuffered() {
	if s.id == "" {
		return
	}
	pending := s.buffered
	s.buffered = nil
	for _, op := range pending {
		op.fn(s.id)
	}
}

func (s *Session) annotatedRequest(method base.Method, sessionID string) *base.Request {
	req := base.NewRequest(method, s.pres.url)
	req.Header.Set("Session", sessionID, 0)
	return req
}

// Play sends PLAY. Transitions to Playing on success.
func (s *Session) Play(onSuccess func(*base.Response), onFailure func(error)) {
	s.dispatch(func(sessionID string) {
		req := s.annotatedRequest(base.PLAY, sessionID)
		_ = s.pres.SendRequest(req, func(resp *base.Response) {
			if resp.OK() {
				s.state = SessionPlaying
			}
			if onSuccess != nil {
				onSuccess(resp)
			}
		}, onFailure)
	})
}

// Pause sends PAUSE. Transitions to Paused on success.
func (s *Session) Pause(onSuccess func(*base.Response), onFailure func(error)) {
	s.dispatch(func(sessionID string) {
		req := s.annotatedRequest(base.PAUSE, sessionID)
		_ = s.pres.SendRequest(req, func(resp *base.Response) {
			if resp.OK() {
				s.state = SessionPaused
			}
			if onSuccess != nil {
				onSuccess(resp)
			}
		}, onFailure)
	})
}

// Record sends RECORD. Transitions to Recording on success.
func (s *Session) Record(onSuccess func(*base.Response), onFailure func(error)) {
	s.dispatch(func(sessionID string) {
		req := s.annotatedRequest(base.RECORD, sessionID)
		_ = s.pres.SendRequest(req, func(resp *base.Response) {
			if resp.OK() {
				s.state = SessionRecording
			}
			if onSuccess != nil {
				onSuccess(resp)
			}
		}, onFailure)
	})
}

// Teardown sends TEARDOWN. Transitions to Inactive on success, and the
// session id is cleared so a fresh SETUP would be required.
func (s *Session) Teardown(onSuccess func(*base.Response), onFailure func(error)) {
	s.dispatch(func(sessionID string) {
		req := s.annotatedRequest(base.TEARDOWN, sessionID)
		_ = s.pres.SendRequest(req, func(resp *base.Response) {
			if resp.OK() {
				s.state = SessionInactive
				s.id = ""
			}
			if onSuccess != nil {
				onSuccess(resp)
			}
		}, onFailure)
	})
}
