package rtspengine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nrtsp/rtspengine/internal/scheduler"
)

// AfterID identifies a scheduled callback registered with ScheduleAfter,
// usable with CancelAfter. It remains a plain monotonic integer — the
// correlation tag logged alongside it is a separate, human-readable
// concern (see ScheduleAfter).
type AfterID = scheduler.ID

type socketEntry struct {
	sock      *Socket
	wantWrite bool
}

// EventLoop is the single-threaded cooperative reactor described in §4.1:
// it owns an admission queue, an active set (together with connecting
// sockets, bounded by MaxActiveConnections) it polls for readiness every
// cycle, and a due-time-ordered queue of scheduled callbacks.
type EventLoop struct {
	MaxActiveConnections int

	admission  []*socketEntry
	active     []*socketEntry
	connecting []*socketEntry

	sched *scheduler.Queue
	tags  map[AfterID]string

	activity int

	// Logger receives one debug line per scheduled-callback dispatch,
	// tagged with a correlation id distinct from the AfterID itself, so a
	// log consumer can follow one "after" across retries without having
	// to reason about heap-internal integer reuse.
	Logger *slog.Logger

	// OnCycle, when set, is invoked once at the end of every RunCycle,
	// after scheduled callbacks have fired — useful for tests and for a
	// caller-driven blocking Run loop to observe progress.
	OnCycle func()
}

// NewEventLoop allocates an EventLoop bounded to maxActive simultaneous
// connections (§4.1; default is carried by Config, not here).
func NewEventLoop(maxActive int) *EventLoop {
	return &EventLoop{
		MaxActiveConnections: maxActive,
		sched:                scheduler.New(),
		tags:                 make(map[AfterID]string),
		Logger:               slog.Default(),
	}
}

// AddSocket registers a socket for readiness polling. If the active set
// is already at capacity, the socket is queued for admission on a later
// cycle rather than rejected, per §4.1's admission-queue design.
func (el *EventLoop) AddSocket(s *Socket, wantWrite bool) {
	el.admission = append(el.admission, &socketEntry{sock: s, wantWrite: wantWrite})
}

// RemoveSocket drops s from every internal set. It does not disconnect
// the socket; callers that want that call Socket.Disconnect separately.
func (el *EventLoop) RemoveSocket(s *Socket) {
	el.active = removeSocketEntry(el.active, s)
	el.admission = removeSocketEntry(el.admission, s)
	el.connecting = removeSocketEntry(el.connecting, s)
}

func removeSocketEntry(list []*socketEntry, s *Socket) []*socketEntry {
	out := list[:0]
	for _, e := range list {
		if e.sock != s {
			out = append(out, e)
		}
	}
	return out
}

// SetWantWrite toggles whether s is polled for writability on subsequent
// cycles (used once a Presentation has buffered data to flush).
func (el *EventLoop) SetWantWrite(s *Socket, want bool) {
	for _, e := range el.active {
		if e.sock == s {
			e.wantWrite = want
			return
		}
	}
	for _, e := range el.admission {
		if e.sock == s {
			e.wantWrite = want
			return
		}
	}
}

// ActiveCount returns the number of sockets currently in the active set.
func (el *EventLoop) ActiveCount() int { return len(el.active) }

// ScheduleAfter registers fn to run after delay has elapsed, counted from
// now. Returns an id usable with CancelAfter. A fresh correlation tag is
// recorded alongside the id purely for the Logger line emitted when fn
// fires; the id itself stays the scheduler's plain monotonic integer.
func (el *EventLoop) ScheduleAfter(now time.Time, delay time.Duration, fn func()) AfterID {
	id := el.sched.Schedule(now, delay, fn)
	el.tags[id] = uuid.NewString()
	return id
}

// CancelAfter cancels a previously scheduled callback. It is a no-op if
// the id is unknown or already fired (§9 Open Question decision).
func (el *EventLoop) CancelAfter(id AfterID) {
	el.sched.Cancel(id)
	delete(el.tags, id)
}

// RunCycle executes exactly one iteration of the reactor's cycle
// algorithm (§4.1 steps 1-5):
//  1. Admit queued sockets into the active set up to MaxActiveConnections.
//  2. Advance pending non-blocking connects, firing OnConnectable.
//  3. Poll the active set for readiness in one zero-timeout syscall and
//     dispatch OnReadable/OnWritable, each at most once per cycle.
//  4. Pop and invoke every scheduled callback whose due time has passed.
//  5. Bump the activity counter when any of the above did work, so a
//     caller-driven Run loop can detect quiescence.
func (el *EventLoop) RunCycle(now time.Time) {
	didWork := false

	for len(el.admission) > 0 && len(el.active)+len(el.connecting) < el.MaxActiveConnections {
		e := el.admission[0]
		el.admission = el.admission[1:]
		if e.sock.State() == StateConnecting {
			el.connecting = append(el.connecting, e)
		} else {
			el.active = append(el.active, e)
		}
		didWork = true
	}

	if len(el.connecting) > 0 {
		remaining := el.connecting[:0]
		for _, e := range el.connecting {
			done, ok := e.sock.PollConnect()
			if !done {
				remaining = append(remaining, e)
				continue
			}
			didWork = true
			if ok {
				if e.sock.OnConnectable != nil {
					e.sock.OnConnectable()
				}
				el.active = append(el.active, e)
			}
		}
		el.connecting = remaining
	}

	if len(el.active) > 0 {
		socks := make([]*Socket, len(el.active))
		wantWrite := make([]bool, len(el.active))
		for i, e := range el.active {
			socks[i] = e.sock
			wantWrite[i] = e.wantWrite
		}

		readable, writable := pollReadiness(socks, wantWrite)

		for _, e := range el.active {
			if readable[e.sock] {
				didWork = true
				e.sock.state = StateReadable
				if e.sock.OnReadable != nil {
					e.sock.OnReadable()
				}
				if e.sock.state == StateReadable {
					e.sock.state = StateConnected
				}
			}
			if writable[e.sock] {
				didWork = true
				e.sock.state = StateWritable
				if e.sock.OnWritable != nil {
					e.sock.OnWritable()
				}
				if e.sock.state == StateWritable {
					e.sock.state = StateConnected
				}
			}
		}
	}

	for {
		fn, id, ok := el.sched.PopDueWithID(now)
		if !ok {
			break
		}
		didWork = true
		if el.Logger != nil {
			el.Logger.Debug("firing scheduled callback", "after_id", id, "correlation_tag", el.tags[id])
		}
		delete(el.tags, id)
		fn()
	}

	if didWork {
		el.activity++
	}

	if el.OnCycle != nil {
		el.OnCycle()
	}
}

// Idle reports whether the EventLoop holds no work at all: no admitted,
// active, or connecting sockets and no scheduled callbacks — the
// EventLoop's termination signal when driven by Run.
func (el *EventLoop) Idle() bool {
	return len(el.admission) == 0 && len(el.active) == 0 &&
		len(el.connecting) == 0 && el.sched.Len() == 0
}

// Run drives RunCycle in a loop until the EventLoop goes idle (no active,
// admitted, or connecting sockets, nothing scheduled); it has no other
// exit. When pollInterval > 0 it sleeps that long between cycles, which
// bounds CPU spin while sockets stay open (e.g. a UDP presentation
// awaiting data).
func (el *EventLoop) Run(pollInterval time.Duration) {
	for !el.Idle() {
		el.RunCycle(time.Now())
		if pollInterval > 0 {
			time.Sleep(pollInterval)
		}
	}
}
