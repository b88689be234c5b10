// Package session multiplexes a single debug adapter connection: one
// goroutine reads and decodes frames, correlating responses back to
// their callers and fanning out events to subscribers, while writes are
// serialized so concurrent callers never interleave two requests'
// bytes on the wire.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dapcore/pkg/codec"
	"dapcore/pkg/dapmsg"
	"dapcore/pkg/pending"
	"dapcore/pkg/transport"
)

// ReverseRequestHandler answers a request the adapter sends to us (e.g.
// runInTerminal). The default, if none is registered, rejects every
// reverse request with success:false.
type ReverseRequestHandler func(ctx context.Context, req *dapmsg.Request) dapmsg.OutgoingResponse

// eventSubscriberBuffer bounds how many undelivered events a slow
// subscriber can accumulate before its oldest ones are dropped to make
// room, rather than blocking the whole session on one slow reader.
const eventSubscriberBuffer = 64

// Multiplexer owns one adapter connection end to end: encoding and
// decoding frames, matching responses to requests, and broadcasting
// events.
type Multiplexer struct {
	log *zap.Logger

	writeMu sync.Mutex
	enc     *codec.Encoder
	wc      io.Closer
	rc      io.Closer

	reg    *pending.Registry
	nextSeq int64

	reverseHandler ReverseRequestHandler

	subMu sync.Mutex
	subs  map[int]chan *dapmsg.Event
	subID int
	dropped atomic.Int64

	group  *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// New starts a Multiplexer over an already-split transport. The
// returned Multiplexer owns both halves: Shutdown closes them.
func New(ctx context.Context, t transport.Splittable, log *zap.Logger) *Multiplexer {
	if log == nil {
		log = zap.NewNop()
	}
	rh, wh := t.Split()

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)

	m := &Multiplexer{
		log:    log,
		enc:    codec.NewEncoder(wh),
		wc:     wh,
		rc:     rh,
		reg:    pending.New(),
		subs:   make(map[int]chan *dapmsg.Event),
		group:  group,
		cancel: cancel,
		closed: make(chan struct{}),
	}

	group.Go(func() error {
		return m.readLoop(gctx, rh)
	})

	return m
}

// SetReverseRequestHandler installs the callback invoked for requests
// the adapter sends us. Must be called before Shutdown; not safe to
// change concurrently with readLoop dispatching a reverse request.
func (m *Multiplexer) SetReverseRequestHandler(h ReverseRequestHandler) {
	m.reverseHandler = h
}

// allocSeq mints the next outgoing sequence number.
func (m *Multiplexer) allocSeq() dapmsg.Seq {
	return dapmsg.Seq(atomic.AddInt64(&m.nextSeq, 1))
}

// Send sends a request and blocks until its response arrives, ctx is
// cancelled, or the session shuts down. On success it returns the
// response verbatim; callers unmarshal its Body into the shape they
// expect. ctx is observed only once the request has been written: a
// write blocked on the transport is not interrupted by it.
func (m *Multiplexer) Send(ctx context.Context, command string, args []byte) (*dapmsg.Response, error) {
	seq := m.allocSeq()
	waiter := make(chan pending.Result, 1)
	m.reg.Insert(seq, pending.Item{Command: command, Waiter: waiter})

	if err := m.send(seq, command, args); err != nil {
		m.reg.Take(seq)
		return nil, err
	}

	select {
	case res := <-waiter:
		if res.Err != nil {
			return nil, res.Err
		}
		if !res.Response.Success {
			return nil, &AdapterError{Command: command, Message: res.Response.Message}
		}
		return res.Response, nil
	case <-ctx.Done():
		m.reg.Take(seq)
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrShuttingDown
	}
}

// SendChained sends a request whose response is meant to trigger a
// follow-up step rather than unblock a waiting caller (the stopped ->
// threads -> stackTrace -> scopes -> variables chain). The response,
// successful or not, or the error the session shut down with, is
// delivered on the returned channel exactly once;
// callers drive the chain themselves by calling SendChained again
// from the receiving goroutine. This keeps chain orchestration (which
// is DAP-semantics, not transport plumbing) out of the multiplexer.
func (m *Multiplexer) SendChained(ctx context.Context, command string, args []byte) (<-chan pending.Result, error) {
	seq := m.allocSeq()
	waiter := make(chan pending.Result, 1)
	m.reg.Insert(seq, pending.Item{Command: command, Waiter: waiter})

	if err := m.send(seq, command, args); err != nil {
		m.reg.Take(seq)
		return nil, err
	}
	return waiter, nil
}

// Execute writes a request and returns as soon as the write completes,
// without registering a pending-response entry or waiting for the
// adapter to answer. It is for requests whose response the caller has
// no use for (or handles separately, e.g. via a reverse-request
// handler) — unlike Send, a response arriving for this seq is never
// correlated anywhere and is logged as unmatched if it arrives.
func (m *Multiplexer) Execute(ctx context.Context, command string, args []byte) error {
	seq := m.allocSeq()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return ErrShuttingDown
	default:
	}
	return m.send(seq, command, args)
}

func (m *Multiplexer) send(seq dapmsg.Seq, command string, args []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.enc.EncodeRequest(seq, dapmsg.OutgoingMessage{Command: command, Arguments: args})
}

// respond answers a reverse-request from the adapter.
func (m *Multiplexer) respond(resp dapmsg.OutgoingResponse) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.enc.EncodeResponse(m.allocSeq(), resp)
}

// Subscribe returns a channel of events and an unsubscribe function.
// The channel is buffered; if the subscriber falls behind, its oldest
// queued events are dropped in favour of new ones (counted in
// DroppedEvents) rather than blocking the read loop.
func (m *Multiplexer) Subscribe() (<-chan *dapmsg.Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.subID
	m.subID++
	ch := make(chan *dapmsg.Event, eventSubscriberBuffer)
	m.subs[id] = ch

	unsub := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, unsub
}

// DroppedEvents reports how many events were discarded because a
// subscriber's buffer was full.
func (m *Multiplexer) DroppedEvents() int64 {
	return m.dropped.Load()
}

func (m *Multiplexer) broadcast(ev *dapmsg.Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Full: discard the oldest queued event to make room.
			select {
			case old := <-ch:
				m.dropped.Add(1)
				m.log.Warn("dropping oldest event for slow subscriber",
					zap.Int("subscriber", id), zap.String("event", old.Name))
			default:
			}
			select {
			case ch <- ev:
			default:
				m.dropped.Add(1)
			}
		}
	}
}

func (m *Multiplexer) readLoop(ctx context.Context, rh transport.ReadHalf) error {
	dec := codec.New()
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			m.shutdown(ErrShuttingDown)
			return ctx.Err()
		default:
		}

		n, err := rh.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if derr := m.drain(ctx, dec); derr != nil {
				m.shutdown(derr)
				return derr
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			wrapped := fmt.Errorf("%w: %v", ErrTransportClosed, err)
			m.shutdown(wrapped)
			return wrapped
		}
	}
}

func (m *Multiplexer) drain(ctx context.Context, dec *codec.Decoder) error {
	for {
		msg, err := dec.Next()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if msg == nil {
			return nil
		}
		m.dispatch(ctx, msg)
	}
}

func (m *Multiplexer) dispatch(ctx context.Context, msg *dapmsg.Message) {
	switch msg.Kind {
	case dapmsg.KindResponse:
		item, ok := m.reg.Take(msg.Response.RequestSeq)
		if !ok {
			m.log.Warn("response with no matching request", zap.Int64("request_seq", int64(msg.Response.RequestSeq)))
			return
		}
		if item.Waiter != nil {
			item.Waiter <- pending.Result{Response: msg.Response}
		}
	case dapmsg.KindEvent:
		m.broadcast(msg.Event)
	case dapmsg.KindRequest:
		m.handleReverseRequest(ctx, msg.Request)
	}
}

func (m *Multiplexer) handleReverseRequest(ctx context.Context, req *dapmsg.Request) {
	handler := m.reverseHandler
	if handler == nil {
		_ = m.respond(dapmsg.OutgoingResponse{
			RequestSeq: req.Seq,
			Success:    false,
			Command:    req.Command,
			Message:    "not supported",
		})
		return
	}
	resp := handler(ctx, req)
	resp.RequestSeq = req.Seq
	if resp.Command == "" {
		resp.Command = req.Command
	}
	if err := m.respond(resp); err != nil {
		m.log.Error("failed to answer reverse request", zap.String("command", req.Command), zap.Error(err))
	}
}

// Shutdown closes the transport, which unblocks the read loop's pending
// Read, and unblocks every pending caller with ErrShuttingDown. It waits
// up to the lifetime of ctx for the read loop goroutine to exit.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.cancel()
	m.shutdown(ErrShuttingDown)

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (m *Multiplexer) shutdown(cause error) {
	m.closeOnce.Do(func() {
		// Drain before closing m.closed so callers parked in Send wake
		// on their waiter and see cause rather than ErrShuttingDown.
		m.reg.DrainWithError(cause)
		close(m.closed)
		_ = m.wc.Close()
		_ = m.rc.Close()

		m.subMu.Lock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
		m.subMu.Unlock()
	})
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
