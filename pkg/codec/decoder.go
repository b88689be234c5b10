package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	json "github.com/segmentio/encoding/json"

	"dapcore/pkg/dapmsg"
)

const DefaultMaxBodyBytes = 16 * 1024 * 1024 // 16 MiB

type decoderState int

const (
	stateAwaitingHeader decoderState = iota
	stateAwaitingBody
)

// Decoder turns a growable byte buffer into a sequence of dapmsg.Messages.
// It is pure: no I/O, no goroutines, just bytes in and messages out, so it
// can be exercised with plain unit tests independent of any transport.
type Decoder struct {
	buf     []byte
	state   decoderState
	pending int // Content-Length of the frame currently being awaited
	maxBody int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxBody overrides the default 16 MiB cap on a single message body.
func WithMaxBody(n int) Option {
	return func(d *Decoder) { d.maxBody = n }
}

// New constructs a Decoder ready to accept bytes via Feed.
func New(opts ...Option) *Decoder {
	d := &Decoder{maxBody: DefaultMaxBodyBytes, state: stateAwaitingHeader}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends newly-received bytes to the decoder's internal buffer.
// Bytes are never lost across calls: everything not yet consumed by a
// completed Next() call stays buffered.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next attempts to decode one message from the buffered bytes. It
// returns (nil, nil) when more bytes are needed; callers should Feed more
// data and call Next again. A non-nil error is fatal to the decoder:
// callers must not continue calling Next after one.
func (d *Decoder) Next() (*dapmsg.Message, error) {
	for {
		switch d.state {
		case stateAwaitingHeader:
			n, ok, err := d.tryParseHeader()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			d.pending = n
			d.state = stateAwaitingBody
		case stateAwaitingBody:
			if len(d.buf) < d.pending {
				return nil, nil
			}
			body := d.buf[:d.pending]
			d.buf = d.buf[d.pending:]
			d.state = stateAwaitingHeader
			d.pending = 0

			msg, err := decodeBody(body)
			if err != nil {
				return nil, err
			}
			return msg, nil
		}
	}
}

// tryParseHeader scans for the "\r\n\r\n" header terminator. It returns
// (contentLength, true, nil) once a full header block with a valid
// Content-Length has been found, consuming the header bytes from buf.
// It returns (0, false, nil) when more bytes are needed.
func (d *Decoder) tryParseHeader() (int, bool, error) {
	idx := bytes.Index(d.buf, []byte("\r\n\r\n"))
	if idx == -1 {
		return 0, false, nil
	}
	headerBlock := d.buf[:idx]
	if !utf8.Valid(headerBlock) {
		return 0, false, ErrInvalidUTF8
	}

	contentLength := -1
	for _, line := range bytes.Split(headerBlock, []byte("\r\n")) {
		if len(line) == 0 {
			continue
		}
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		if string(name) != "Content-Length" {
			// Other headers are tolerated and ignored.
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return 0, false, ErrMalformedContentLength
		}
		contentLength = n
	}
	if contentLength == -1 {
		return 0, false, ErrMissingContentLength
	}

	if contentLength > d.maxBody {
		// Fail without consuming anything past the header, so a later
		// resync attempt never misinterprets the declared-but-never-sent
		// body bytes as belonging to the next frame.
		return 0, false, &MessageTooLargeError{Size: contentLength, Max: d.maxBody}
	}

	// Consume the header block including the terminator.
	d.buf = d.buf[idx+4:]
	return contentLength, true, nil
}

func decodeBody(body []byte) (*dapmsg.Message, error) {
	var env struct {
		Seq        dapmsg.Seq      `json:"seq"`
		Type       dapmsg.Kind     `json:"type"`
		Command    string          `json:"command"`
		Event      string          `json:"event"`
		RequestSeq dapmsg.Seq      `json:"request_seq"`
		Success    bool            `json:"success"`
		Message    string          `json:"message"`
		Arguments  json.RawMessage `json:"arguments"`
		Body       json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONDeserialize, err)
	}

	// "type" is mandatory on the wire, but some adapters send events
	// without it since the event name alone is already unambiguous; an
	// "event" field with no "type" is still an event.
	if env.Type == "" && env.Event != "" {
		env.Type = dapmsg.KindEvent
	}

	switch env.Type {
	case dapmsg.KindRequest:
		return &dapmsg.Message{
			Kind: dapmsg.KindRequest,
			Request: &dapmsg.Request{
				Seq:       env.Seq,
				Command:   env.Command,
				Arguments: env.Arguments,
			},
		}, nil
	case dapmsg.KindResponse:
		return &dapmsg.Message{
			Kind: dapmsg.KindResponse,
			Response: &dapmsg.Response{
				Seq:        env.Seq,
				RequestSeq: env.RequestSeq,
				Success:    env.Success,
				Command:    env.Command,
				Message:    env.Message,
				Body:       env.Body,
			},
		}, nil
	case dapmsg.KindEvent:
		known := dapmsg.ClassifyEvent(env.Event)
		ev := &dapmsg.Event{Name: env.Event, Known: known}
		if known != dapmsg.EventUnknown {
			ev.Body = env.Body
		}
		return &dapmsg.Message{Kind: dapmsg.KindEvent, Event: ev}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognised message type %q", ErrJSONDeserialize, env.Type)
	}
}
