package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapcore/pkg/codec"
	"dapcore/pkg/dapmsg"
	"dapcore/pkg/transport"
)

// adapterSide pairs a memory transport endpoint with an encoder/decoder
// so a test can act as a scripted debug adapter.
type adapterSide struct {
	r   transport.ReadHalf
	w   transport.WriteHalf
	enc *codec.Encoder
	dec *codec.Decoder
}

func newAdapterSide(t *testing.T, side transport.Splittable) *adapterSide {
	t.Helper()
	r, w := side.Split()
	return &adapterSide{r: r, w: w, enc: codec.NewEncoder(w), dec: codec.New()}
}

func (a *adapterSide) readRequest(t *testing.T) *dapmsg.Request {
	t.Helper()
	buf := make([]byte, 4096)
	for {
		if msg, err := a.dec.Next(); err == nil && msg != nil {
			require.Equal(t, dapmsg.KindRequest, msg.Kind)
			return msg.Request
		}
		n, err := a.r.Read(buf)
		require.NoError(t, err)
		a.dec.Feed(buf[:n])
	}
}

func (a *adapterSide) respondOK(t *testing.T, req *dapmsg.Request, body string) {
	t.Helper()
	err := a.enc.EncodeResponse(0, dapmsg.OutgoingResponse{
		RequestSeq: req.Seq,
		Success:    true,
		Command:    req.Command,
		Body:       []byte(body),
	})
	require.NoError(t, err)
}

func newTestPair(t *testing.T) (*Multiplexer, *adapterSide) {
	t.Helper()
	clientSide, serverSide := transport.NewMemoryPair()
	mux := New(context.Background(), clientSide, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mux.Shutdown(ctx)
	})
	return mux, newAdapterSide(t, serverSide)
}

func TestSendRoundTrip(t *testing.T) {
	mux, adapter := newTestPair(t)

	done := make(chan *dapmsg.Response, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := mux.Send(ctx, "initialize", []byte(`{"adapterID":"x"}`))
		require.NoError(t, err)
		done <- resp
	}()

	req := adapter.readRequest(t)
	assert.Equal(t, "initialize", req.Command)
	adapter.respondOK(t, req, `{"supportsConfigurationDoneRequest":true}`)

	select {
	case resp := <-done:
		require.NotNil(t, resp)
		assert.True(t, resp.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestSendAdapterRejection(t *testing.T) {
	mux, adapter := newTestPair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := mux.Send(context.Background(), "launch", nil)
		errCh <- err
	}()

	req := adapter.readRequest(t)
	err := adapter.enc.EncodeResponse(0, dapmsg.OutgoingResponse{
		RequestSeq: req.Seq,
		Success:    false,
		Command:    req.Command,
		Message:    "program not found",
	})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		var adapterErr *AdapterError
		require.ErrorAs(t, err, &adapterErr)
		assert.Equal(t, "launch", adapterErr.Command)
		assert.Contains(t, adapterErr.Error(), "program not found")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSendContextCancellation(t *testing.T) {
	mux, adapter := newTestPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := mux.Send(ctx, "threads", nil)
		errCh <- err
	}()

	// The in-memory pipe is synchronous: consume the request so the
	// write completes and Send is left waiting on the response.
	req := adapter.readRequest(t)
	assert.Equal(t, "threads", req.Command)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	mux, adapter := newTestPair(t)
	events, unsub := mux.Subscribe()
	defer unsub()

	raw, err := codec.Frame(map[string]any{
		"type":  "event",
		"event": "terminated",
	})
	require.NoError(t, err)
	_, err = adapter.w.Write(raw)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, dapmsg.EventTerminated, ev.Known)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestShutdownUnblocksPendingSend(t *testing.T) {
	clientSide, _ := transport.NewMemoryPair()
	mux := New(context.Background(), clientSide, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := mux.Send(context.Background(), "pause", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mux.Shutdown(ctx))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown to unblock caller")
	}
}

func TestExecuteIsFireAndForget(t *testing.T) {
	mux, adapter := newTestPair(t)

	// The in-memory pipe is synchronous, so the adapter must be reading
	// for Execute's write to complete.
	reqCh := make(chan *dapmsg.Request, 1)
	go func() { reqCh <- adapter.readRequest(t) }()

	err := mux.Execute(context.Background(), "disconnect", nil)
	require.NoError(t, err)

	// Execute never registers a pending waiter, so the adapter's eventual
	// response (if any) has nothing to correlate against; the request
	// still reaches the adapter over the wire.
	req := <-reqCh
	assert.Equal(t, "disconnect", req.Command)
	assert.Equal(t, 0, mux.reg.Len())
}
