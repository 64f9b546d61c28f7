package rtspengine

import (
	"time"

	"github.com/nrtsp/rtspengine/pkg/base"
	"github.com/nrtsp/rtspengine/pkg/liberrors"
)

// Client is the thin root-level façade wiring an EventLoop, a
// Presentation, and a Session together (§6). It exists so the
// core components are exercised end-to-end and so the error/warning
// callbacks configured via Config have somewhere to attach.
type Client struct {
	Config Config
	sink   liberrors.Sink

	EventLoop    *EventLoop
	Presentation *Presentation
	Session      *Session
}

// NewClient parses rawURL, validates cfg, dials the control connection
// (blocking, since the URL must be reachable before anything else can
// happen), and wires up the EventLoop/Presentation/Session.
func NewClient(rawURL string, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u, kind, warn, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, liberrors.ErrConfigInvalidURL{URL: rawURL, Err: err}
	}

	c := &Client{Config: cfg}
	c.sink = liberrors.Sink{
		OnError:    cfg.ErrorCallback,
		OnWarning:  cfg.WarningCallback,
		UseError:   cfg.UseErrorCallback,
		UseWarning: cfg.UseWarningCallback,
	}

	if warn {
		c.sink.Warning("unrecognised URL scheme, assuming stream transport")
	}

	host, port := u.Hostport()
	sock := NewSocket(kind, host, port)
	if err := sock.ConnectBlocking(cfg.Timeout); err != nil {
		return nil, err
	}

	el := NewEventLoop(cfg.MaxActiveConnections)
	pres := NewPresentation(sock, el, u, cfg.BufferSize)
	pres.Pipelining = cfg.Pipelining
	pres.Timeout = cfg.Timeout
	pres.OnProtocolError = c.sink.Error

	c.EventLoop = el
	c.Presentation = pres
	c.Session = NewSession(pres)

	return c, nil
}

// RunCycle drives exactly one EventLoop cycle; callers using
// InterfaceEventDriven pump this themselves.
func (c *Client) RunCycle() {
	c.EventLoop.RunCycle(time.Now())
}

// Close terminates the presentation and releases its socket.
func (c *Client) Close() {
	c.Presentation.Terminate()
}
