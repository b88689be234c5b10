package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	dap "github.com/google/go-dap"
	json "github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"dapcore/pkg/dapmsg"
	"dapcore/pkg/pathutil"
	"dapcore/pkg/persistence"
	"dapcore/pkg/session"
	"dapcore/pkg/transport"
)

// ErrNoActiveThread is returned by an operation that needs a thread id
// when none was supplied and no thread is current.
var ErrNoActiveThread = errors.New("dapcore/debugger: no active thread")

// ErrSubscriberClosed is returned by WaitForEvent when its subscriber
// channel is closed (the Debugger was shut down) before the predicate
// matched.
var ErrSubscriberClosed = errors.New("dapcore/debugger: event subscription closed")

// DefaultControlTimeout bounds control operations (continue, step,
// pause, breakpoints, configuration). variables/evaluate are
// deliberately unbounded: adapter-side work (expression evaluation,
// large collections) may legitimately take longer.
const DefaultControlTimeout = 10 * time.Second

const stoppedChainTimeout = 30 * time.Second

// Debugger is the public, typed API driving one adapter session: the
// handshake, breakpoint reconciliation, current-thread tracking, and
// the stopped-event follow-up chain, all built on pkg/session's
// generic request/response/event plumbing.
type Debugger struct {
	mux          *session.Multiplexer
	state        *sessionState
	breakpoints  *breakpointSet
	log          *zap.Logger
	capabilities *dap.Capabilities

	initOnce sync.Once
	initCh   chan struct{}

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int
}

// New connects a Debugger to an already-established transport and
// starts its background event-dispatch loop. The returned Debugger owns
// the transport; call Terminate/Disconnect then Close to tear it down.
func New(ctx context.Context, t transport.Splittable, log *zap.Logger) *Debugger {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Debugger{
		mux:         session.New(ctx, t, log),
		state:       newSessionState(),
		breakpoints: newBreakpointSet(),
		log:         log,
		initCh:      make(chan struct{}),
		subs:        make(map[int]chan Event),
	}
	go d.runEventLoop(ctx)
	return d
}

// State returns the current session lifecycle state.
func (d *Debugger) State() State { return d.state.get() }

// DroppedEvents reports events dropped because a raw session subscriber
// lagged; see pkg/session.Multiplexer.DroppedEvents.
func (d *Debugger) DroppedEvents() int64 { return d.mux.DroppedEvents() }

// Close tears down the underlying session without sending terminate or
// disconnect first; callers that want a graceful adapter shutdown
// should call Terminate or Disconnect beforehand.
func (d *Debugger) Close(ctx context.Context) error {
	return d.mux.Shutdown(ctx)
}

// withControlTimeout derives a context bounded by DefaultControlTimeout,
// unless ctx already carries an earlier deadline.
func withControlTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultControlTimeout)
}

func marshalArgs(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dapcore/debugger: marshal request arguments: %w", err)
	}
	return b, nil
}

// Initialize sends the initialize request and then waits for the
// adapter's "initialized" event before returning, matching the
// handshake order the facade enforces for every subsequent
// configuration call.
func (d *Debugger) Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error) {
	body, _ := marshalArgs(struct {
		AdapterID string `json:"adapterID"`
	}{AdapterID: adapterID})

	resp, err := d.mux.Send(ctx, "initialize", body)
	if err != nil {
		return nil, err
	}
	var caps dap.Capabilities
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &caps); err != nil {
			return nil, fmt.Errorf("dapcore/debugger: decode capabilities: %w", err)
		}
	}
	d.capabilities = &caps

	select {
	case <-d.initCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &caps, nil
}

// Launch sends a launch request shaped for lang.
func (d *Debugger) Launch(ctx context.Context, lang Language, args LaunchArguments) error {
	body, err := buildLaunchBody(lang, args)
	if err != nil {
		return err
	}
	_, err = d.mux.Send(ctx, "launch", body)
	return err
}

// Attach sends an attach request shaped for lang.
func (d *Debugger) Attach(ctx context.Context, lang Language, args AttachArguments) error {
	body, err := buildAttachBody(lang, args)
	if err != nil {
		return err
	}
	_, err = d.mux.Send(ctx, "attach", body)
	return err
}

// SetBreakpoints replaces the full breakpoint list for path. names may
// be nil; any line present as a key gets that name on the wire.
func (d *Debugger) SetBreakpoints(ctx context.Context, path string, lines []int, names map[int]string) ([]dap.Breakpoint, error) {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	tracked := d.breakpoints.replace(path, lines, names)

	type wireBreakpoint struct {
		Line int    `json:"line"`
		Name string `json:"name,omitempty"`
	}
	wire := make([]wireBreakpoint, len(tracked))
	for i, bp := range tracked {
		wire[i] = wireBreakpoint{Line: bp.Line, Name: bp.Name}
	}

	norm, err := pathutil.Normalise(path)
	if err != nil {
		norm = path
	}
	body, _ := marshalArgs(struct {
		Source      struct {
			Path string `json:"path"`
		} `json:"source"`
		Breakpoints []wireBreakpoint `json:"breakpoints"`
	}{
		Source: struct {
			Path string `json:"path"`
		}{Path: norm},
		Breakpoints: wire,
	})

	resp, err := d.mux.Send(ctx, "setBreakpoints", body)
	if err != nil {
		return nil, err
	}
	var respBody dap.SetBreakpointsResponseBody
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &respBody); err != nil {
			return nil, fmt.Errorf("dapcore/debugger: decode setBreakpoints response: %w", err)
		}
	}
	d.breakpoints.applyVerification(path, respBody.Breakpoints)
	return respBody.Breakpoints, nil
}

// SetFunctionBreakpoints replaces the full function-breakpoint list.
func (d *Debugger) SetFunctionBreakpoints(ctx context.Context, names []string) error {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	type wireFn struct {
		Name string `json:"name"`
	}
	wire := make([]wireFn, len(names))
	for i, n := range names {
		wire[i] = wireFn{Name: n}
	}
	body, _ := marshalArgs(struct {
		Breakpoints []wireFn `json:"breakpoints"`
	}{Breakpoints: wire})

	_, err := d.mux.Send(ctx, "setFunctionBreakpoints", body)
	return err
}

// ConfigurationDone signals the adapter that all configuration requests
// have been sent; must only be called after Initialize has returned.
func (d *Debugger) ConfigurationDone(ctx context.Context) error {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	_, err := d.mux.Send(ctx, "configurationDone", nil)
	if err == nil {
		d.state.set(StateRunning)
	}
	return err
}

func (d *Debugger) resolveThread(threadID int) (int, error) {
	if threadID != 0 {
		return threadID, nil
	}
	id, ok := d.state.currentThreadID()
	if !ok {
		return 0, ErrNoActiveThread
	}
	return id, nil
}

func threadBody(threadID int) []byte {
	b, _ := marshalArgs(struct {
		ThreadID int `json:"threadId"`
	}{ThreadID: threadID})
	return b
}

// Continue resumes execution. threadID of 0 uses the current thread.
func (d *Debugger) Continue(ctx context.Context, threadID int) error {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	id, err := d.resolveThread(threadID)
	if err != nil {
		return err
	}
	body, _ := marshalArgs(struct {
		ThreadID     int  `json:"threadId"`
		SingleThread bool `json:"singleThread"`
	}{ThreadID: id, SingleThread: false})

	if _, err := d.mux.Send(ctx, "continue", body); err != nil {
		return err
	}
	d.state.set(StateRunning)
	return nil
}

func (d *Debugger) step(ctx context.Context, command string, threadID int) error {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	id, err := d.resolveThread(threadID)
	if err != nil {
		return err
	}
	if _, err := d.mux.Send(ctx, command, threadBody(id)); err != nil {
		return err
	}
	d.state.set(StateRunning)
	return nil
}

// StepOver executes the "next" request.
func (d *Debugger) StepOver(ctx context.Context, threadID int) error { return d.step(ctx, "next", threadID) }

// StepIn executes the "stepIn" request.
func (d *Debugger) StepIn(ctx context.Context, threadID int) error { return d.step(ctx, "stepIn", threadID) }

// StepOut executes the "stepOut" request.
func (d *Debugger) StepOut(ctx context.Context, threadID int) error { return d.step(ctx, "stepOut", threadID) }

// Pause requests the adapter suspend threadID (0 for the current thread).
func (d *Debugger) Pause(ctx context.Context, threadID int) error {
	ctx, cancel := withControlTimeout(ctx)
	defer cancel()

	id, err := d.resolveThread(threadID)
	if err != nil {
		return err
	}
	_, err = d.mux.Send(ctx, "pause", threadBody(id))
	return err
}

// StackTrace returns the call stack for threadID (0 for current thread).
func (d *Debugger) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	id, err := d.resolveThread(threadID)
	if err != nil {
		return nil, err
	}
	resp, err := d.mux.Send(ctx, "stackTrace", threadBody(id))
	if err != nil {
		return nil, err
	}
	var body dap.StackTraceResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: decode stackTrace response: %w", err)
	}
	return body.StackFrames, nil
}

// Scopes returns the variable scopes for frameID.
func (d *Debugger) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	body, _ := marshalArgs(struct {
		FrameID int `json:"frameId"`
	}{FrameID: frameID})
	resp, err := d.mux.Send(ctx, "scopes", body)
	if err != nil {
		return nil, err
	}
	var respBody dap.ScopesResponseBody
	if err := json.Unmarshal(resp.Body, &respBody); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: decode scopes response: %w", err)
	}
	return respBody.Scopes, nil
}

// Variables lazily fetches the children under varRef.
func (d *Debugger) Variables(ctx context.Context, varRef int) ([]dap.Variable, error) {
	body, _ := marshalArgs(struct {
		VariablesReference int `json:"variablesReference"`
	}{VariablesReference: varRef})
	resp, err := d.mux.Send(ctx, "variables", body)
	if err != nil {
		return nil, err
	}
	var respBody dap.VariablesResponseBody
	if err := json.Unmarshal(resp.Body, &respBody); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: decode variables response: %w", err)
	}
	return respBody.Variables, nil
}

// Evaluate evaluates expr in the context of frameID (0 for global scope).
func (d *Debugger) Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	body, _ := marshalArgs(struct {
		Expression string `json:"expression"`
		FrameID    int    `json:"frameId,omitempty"`
		Context    string `json:"context,omitempty"`
	}{Expression: expr, FrameID: frameID, Context: evalContext})

	resp, err := d.mux.Send(ctx, "evaluate", body)
	if err != nil {
		return nil, err
	}
	var respBody dap.EvaluateResponseBody
	if err := json.Unmarshal(resp.Body, &respBody); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: decode evaluate response: %w", err)
	}
	return &respBody, nil
}

// Threads issues a bare threads request, usable outside the stopped
// follow-up chain.
func (d *Debugger) Threads(ctx context.Context) ([]dap.Thread, error) {
	resp, err := d.mux.Send(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	var body dap.ThreadsResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: decode threads response: %w", err)
	}
	return body.Threads, nil
}

// Terminate asks the adapter to terminate the debuggee.
func (d *Debugger) Terminate(ctx context.Context) error {
	_, err := d.mux.Send(ctx, "terminate", nil)
	if err == nil {
		d.state.set(StateTerminated)
	}
	return err
}

// Disconnect asks the adapter to detach without terminating the debuggee.
func (d *Debugger) Disconnect(ctx context.Context) error {
	_, err := d.mux.Send(ctx, "disconnect", nil)
	if err == nil {
		d.state.set(StateTerminated)
	}
	return err
}

// LoadedBreakpointsState snapshots the current breakpoint set for
// persistence.
func (d *Debugger) LoadedBreakpointsState() *persistence.Persistence {
	p := persistence.New()
	for path, bps := range d.breakpoints.snapshot() {
		for _, bp := range bps {
			p.Breakpoints = append(p.Breakpoints, persistence.Breakpoint{
				ID: bp.ID, Path: path, Line: bp.Line, Name: bp.Name,
			})
		}
	}
	return p
}

// RestoreBreakpoints replays a persisted breakpoint set against the
// adapter, grouped by source path (setBreakpoints is per-file). Call
// this after Initialize and before ConfigurationDone.
func (d *Debugger) RestoreBreakpoints(ctx context.Context, p *persistence.Persistence) error {
	byPath := make(map[string][]int)
	names := make(map[string]map[int]string)
	for _, bp := range p.Breakpoints {
		byPath[bp.Path] = append(byPath[bp.Path], bp.Line)
		if bp.Name != "" {
			if names[bp.Path] == nil {
				names[bp.Path] = make(map[int]string)
			}
			names[bp.Path][bp.Line] = bp.Name
		}
	}
	for path, lines := range byPath {
		if _, err := d.SetBreakpoints(ctx, path, lines, names[path]); err != nil {
			return fmt.Errorf("dapcore/debugger: restore breakpoints for %s: %w", path, err)
		}
	}
	return nil
}

// Subscribe returns a channel of upward-facing Events and an unsubscribe
// function. The channel observes only events emitted after Subscribe is
// called.
func (d *Debugger) Subscribe() (<-chan Event, func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	id := d.subID
	d.subID++
	ch := make(chan Event, 32)
	d.subs[id] = ch
	return ch, func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		if c, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(c)
		}
	}
}

// WaitForEvent blocks until an event matching predicate is observed, ctx
// is cancelled, or the session terminates. It attaches a fresh
// subscriber, so events emitted before the call are never observed.
func (d *Debugger) WaitForEvent(ctx context.Context, predicate func(Event) bool) (Event, error) {
	ch, unsub := d.Subscribe()
	defer unsub()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return Event{}, ErrSubscriberClosed
			}
			if predicate(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (d *Debugger) broadcast(ev Event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.log.Warn("dropping facade event for slow subscriber")
		}
	}
}

func (d *Debugger) runEventLoop(ctx context.Context) {
	events, unsub := d.mux.Subscribe()
	defer unsub()

	for ev := range events {
		switch ev.Known {
		case dapmsg.EventInitialized:
			d.state.set(StateInitialised)
			d.initOnce.Do(func() { close(d.initCh) })
			d.broadcast(Event{Kind: EventInitialised})
		case dapmsg.EventStopped:
			var body struct {
				ThreadID int `json:"threadId"`
			}
			_ = json.Unmarshal(ev.Body, &body)
			go d.runStoppedChain(ctx, body.ThreadID)
		case dapmsg.EventContinued:
			var body struct {
				ThreadID int `json:"threadId"`
			}
			_ = json.Unmarshal(ev.Body, &body)
			if body.ThreadID != 0 {
				d.state.setCurrentThread(body.ThreadID)
			}
			d.state.set(StateRunning)
			d.broadcast(Event{Kind: EventRunning})
		case dapmsg.EventThread:
			var body struct {
				Reason   string `json:"reason"`
				ThreadID int    `json:"threadId"`
			}
			_ = json.Unmarshal(ev.Body, &body)
			if body.Reason == "started" {
				d.state.setCurrentThread(body.ThreadID)
			}
		case dapmsg.EventOutput:
			var body struct {
				Category string `json:"category"`
				Output   string `json:"output"`
			}
			_ = json.Unmarshal(ev.Body, &body)
			d.broadcast(Event{Kind: EventOutput, Output: OutputEvent{Category: body.Category, Text: body.Output}})
		case dapmsg.EventTerminated, dapmsg.EventExited:
			d.state.set(StateTerminated)
			d.broadcast(Event{Kind: EventEnded})
		default:
			d.log.Debug("dropping unknown event", zap.String("name", ev.Name))
		}
	}

	// The session has shut down: close every facade subscriber so
	// WaitForEvent and other readers stop waiting.
	d.subMu.Lock()
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	d.subMu.Unlock()
}

// runStoppedChain drives threads -> stackTrace -> scopes for threadID,
// emitting exactly one Paused event on success. Any stage failing
// leaves the session state unchanged (no partial Paused is ever
// published).
func (d *Debugger) runStoppedChain(ctx context.Context, threadID int) {
	cctx, cancel := context.WithTimeout(ctx, stoppedChainTimeout)
	defer cancel()

	if _, err := d.mux.Send(cctx, "threads", nil); err != nil {
		d.log.Warn("stopped chain: threads request failed", zap.Error(err))
		return
	}

	stackResp, err := d.mux.Send(cctx, "stackTrace", threadBody(threadID))
	if err != nil {
		d.log.Warn("stopped chain: stackTrace request failed", zap.Error(err))
		return
	}
	var stackBody dap.StackTraceResponseBody
	if err := json.Unmarshal(stackResp.Body, &stackBody); err != nil {
		d.log.Warn("stopped chain: decode stackTrace response failed", zap.Error(err))
		return
	}
	if len(stackBody.StackFrames) == 0 {
		d.log.Warn("stopped chain: empty stack trace", zap.Int("thread_id", threadID))
		return
	}
	top := stackBody.StackFrames[0]

	scopesBody, _ := marshalArgs(struct {
		FrameID int `json:"frameId"`
	}{FrameID: top.Id})
	if _, err := d.mux.Send(cctx, "scopes", scopesBody); err != nil {
		d.log.Warn("stopped chain: scopes request failed", zap.Error(err))
		return
	}

	d.state.setCurrentThread(threadID)
	d.state.set(StatePaused)
	d.broadcast(Event{Kind: EventPaused, Stack: stackBody.StackFrames, Source: &top.Source})
}
