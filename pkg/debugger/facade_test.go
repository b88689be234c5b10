package debugger

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapcore/pkg/codec"
	"dapcore/pkg/dapmsg"
	"dapcore/pkg/transport"
)

// scriptedAdapter lets a test play a real debug adapter: it decodes
// whatever the Debugger writes and lets the test script responses and
// events back.
type scriptedAdapter struct {
	t   *testing.T
	r   transport.ReadHalf
	w   transport.WriteHalf
	enc *codec.Encoder
	dec *codec.Decoder
}

func newScriptedAdapter(t *testing.T, side transport.Splittable) *scriptedAdapter {
	t.Helper()
	r, w := side.Split()
	return &scriptedAdapter{t: t, r: r, w: w, enc: codec.NewEncoder(w), dec: codec.New()}
}

func (a *scriptedAdapter) nextRequest() *dapmsg.Request {
	a.t.Helper()
	buf := make([]byte, 8192)
	for {
		msg, err := a.dec.Next()
		require.NoError(a.t, err)
		if msg != nil {
			require.Equal(a.t, dapmsg.KindRequest, msg.Kind)
			return msg.Request
		}
		n, err := a.r.Read(buf)
		require.NoError(a.t, err)
		a.dec.Feed(buf[:n])
	}
}

func (a *scriptedAdapter) respond(req *dapmsg.Request, body string) {
	a.t.Helper()
	err := a.enc.EncodeResponse(0, dapmsg.OutgoingResponse{
		RequestSeq: req.Seq,
		Success:    true,
		Command:    req.Command,
		Body:       []byte(body),
	})
	require.NoError(a.t, err)
}

func (a *scriptedAdapter) sendEvent(name, body string) {
	a.t.Helper()
	payload := `{"type":"event","event":"` + name + `"`
	if body != "" {
		payload += `,"body":` + body
	}
	payload += `}`
	raw := []byte("Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n" + payload)
	_, err := a.w.Write(raw)
	require.NoError(a.t, err)
}

func newTestDebugger(t *testing.T) (*Debugger, *scriptedAdapter) {
	t.Helper()
	clientSide, serverSide := transport.NewMemoryPair()
	d := New(context.Background(), clientSide, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d, newScriptedAdapter(t, serverSide)
}

func TestInitializeHandshake(t *testing.T) {
	d, adapter := newTestDebugger(t)

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := d.Initialize(ctx, "dapcore-test")
		resultCh <- err
	}()

	req := adapter.nextRequest()
	assert.Equal(t, "initialize", req.Command)
	adapter.respond(req, `{"supportsConfigurationDoneRequest":true}`)
	adapter.sendEvent("initialized", "")

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initialize")
	}
	assert.Equal(t, StateInitialised, d.State())
}

func TestStoppedChainEmitsSinglePausedEvent(t *testing.T) {
	d, adapter := newTestDebugger(t)
	events, unsub := d.Subscribe()
	defer unsub()

	adapter.sendEvent("stopped", `{"reason":"breakpoint","threadId":1}`)

	req := adapter.nextRequest()
	assert.Equal(t, "threads", req.Command)
	adapter.respond(req, `{"threads":[{"id":1,"name":"main"}]}`)

	req = adapter.nextRequest()
	assert.Equal(t, "stackTrace", req.Command)
	adapter.respond(req, `{"stackFrames":[{"id":7,"name":"main","line":3,"column":1,"source":{"path":"/tmp/a.py"}}]}`)

	req = adapter.nextRequest()
	assert.Equal(t, "scopes", req.Command)
	adapter.respond(req, `{"scopes":[{"name":"Locals","variablesReference":9,"expensive":false}]}`)

	select {
	case ev := <-events:
		require.Equal(t, EventPaused, ev.Kind)
		require.Len(t, ev.Stack, 1)
		assert.Equal(t, 7, ev.Stack[0].Id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Paused event")
	}
	assert.Equal(t, StatePaused, d.State())
}

func TestSetBreakpointsReplacesFullList(t *testing.T) {
	d, adapter := newTestDebugger(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := d.SetBreakpoints(context.Background(), "/tmp/a.py", []int{3, 10}, nil)
		resultCh <- err
	}()
	req := adapter.nextRequest()
	assert.Equal(t, "setBreakpoints", req.Command)
	assert.Contains(t, string(req.Arguments), `"line":3`)
	assert.Contains(t, string(req.Arguments), `"line":10`)
	adapter.respond(req, `{"breakpoints":[{"verified":true,"line":3},{"verified":true,"line":10}]}`)
	require.NoError(t, <-resultCh)

	go func() {
		_, err := d.SetBreakpoints(context.Background(), "/tmp/a.py", []int{10, 25}, nil)
		resultCh <- err
	}()
	req = adapter.nextRequest()
	assert.NotContains(t, string(req.Arguments), `"line":3`)
	assert.Contains(t, string(req.Arguments), `"line":10`)
	assert.Contains(t, string(req.Arguments), `"line":25`)
	adapter.respond(req, `{"breakpoints":[{"verified":true,"line":10},{"verified":false,"line":25}]}`)
	require.NoError(t, <-resultCh)
}

func TestContinueWithNoActiveThreadFails(t *testing.T) {
	d, _ := newTestDebugger(t)
	err := d.Continue(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoActiveThread)
}
