package codec

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapcore/pkg/dapmsg"
)

func frame(t *testing.T, json string) []byte {
	t.Helper()
	return []byte("Content-Length: " + strconv.Itoa(len(json)) + "\r\n\r\n" + json)
}

func TestTerminatedRoundTrip(t *testing.T) {
	json := `{"type":"event","event":"terminated"}`
	data := frame(t, json)

	d := New()
	d.Feed(data)
	msg, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, dapmsg.KindEvent, msg.Kind)
	assert.Equal(t, dapmsg.EventTerminated, msg.Event.Known)

	// No remaining bytes: another Next() must ask for more.
	next, err := d.Next()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTwoEventsInOneBuffer(t *testing.T) {
	json := `{"type":"event","event":"terminated"}`
	data := append(frame(t, json), frame(t, json)...)

	d := New()
	d.Feed(data)

	msg1, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg1)
	assert.Equal(t, dapmsg.EventTerminated, msg1.Event.Known)

	msg2, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg2)
	assert.Equal(t, dapmsg.EventTerminated, msg2.Event.Known)
}

func TestUnknownEventDoesNotFailDecoding(t *testing.T) {
	body := `{"event":"debugpySockets","body":{"sockets":[{"host":"127.0.0.1","port":57003}]}}`
	data := frame(t, body)

	d := New()
	d.Feed(data)
	msg, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, dapmsg.EventUnknown, msg.Event.Known)
	assert.Nil(t, msg.Event.Body)

	// decoder remains healthy for subsequent frames
	d.Feed(frame(t, `{"type":"event","event":"terminated"}`))
	msg2, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, dapmsg.EventTerminated, msg2.Event.Known)
}

func TestByteByByteFeed(t *testing.T) {
	msgs := []string{
		`{"type":"event","event":"initialized"}`,
		`{"type":"response","request_seq":1,"success":true,"command":"initialize"}`,
	}
	var all []byte
	for _, m := range msgs {
		all = append(all, frame(t, m)...)
	}

	d := New()
	var got []*dapmsg.Message
	for _, b := range all {
		d.Feed([]byte{b})
		for {
			m, err := d.Next()
			require.NoError(t, err)
			if m == nil {
				break
			}
			got = append(got, m)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, dapmsg.KindEvent, got[0].Kind)
	assert.Equal(t, dapmsg.KindResponse, got[1].Kind)
}

func TestMessageTooLarge(t *testing.T) {
	body := `{"type":"event","event":"output","body":{}}`
	data := frame(t, body)

	d := New(WithMaxBody(4))
	d.Feed(data)
	_, err := d.Next()
	require.Error(t, err)

	var tooLarge *MessageTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 4, tooLarge.Max)
}

func TestMissingContentLength(t *testing.T) {
	d := New()
	d.Feed([]byte("Foo: bar\r\n\r\n{}"))
	_, err := d.Next()
	require.ErrorIs(t, err, ErrMissingContentLength)
}

func TestMalformedContentLength(t *testing.T) {
	d := New()
	d.Feed([]byte("Content-Length: notanumber\r\n\r\n{}"))
	_, err := d.Next()
	require.ErrorIs(t, err, ErrMalformedContentLength)
}

func TestOtherHeadersTolerated(t *testing.T) {
	body := `{"type":"event","event":"terminated"}`
	raw := "X-Custom: ignored\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	d := New()
	d.Feed([]byte(raw))
	msg, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, dapmsg.EventTerminated, msg.Event.Known)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf sliceWriter
	enc := NewEncoder(&buf)
	require.NoError(t, enc.EncodeRequest(7, dapmsg.OutgoingMessage{
		Command:   "initialize",
		Arguments: []byte(`{"adapterID":"dapcore"}`),
	}))

	d := New()
	d.Feed(buf.data)
	msg, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, dapmsg.KindRequest, msg.Kind)

	want := &dapmsg.Request{Seq: 7, Command: "initialize", Arguments: []byte(`{"adapterID":"dapcore"}`)}
	if diff := cmp.Diff(want, msg.Request); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

type sliceWriter struct{ data []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
