package codec

import (
	"fmt"
	"io"

	json "github.com/segmentio/encoding/json"

	"dapcore/pkg/dapmsg"
)

// Encoder frames outgoing DAP messages onto an io.Writer: Content-Length
// header, blank line, UTF-8 JSON body.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for framed writes.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// EncodeRequest assigns seq to msg and writes the framed request.
func (e *Encoder) EncodeRequest(seq dapmsg.Seq, msg dapmsg.OutgoingMessage) error {
	env := struct {
		Seq       dapmsg.Seq      `json:"seq"`
		Type      dapmsg.Kind     `json:"type"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{
		Seq:       seq,
		Type:      dapmsg.KindRequest,
		Command:   msg.Command,
		Arguments: msg.Arguments,
	}
	return e.writeFrame(env)
}

// EncodeResponse writes a framed response to a reverse-request, assigning
// it seq.
func (e *Encoder) EncodeResponse(seq dapmsg.Seq, msg dapmsg.OutgoingResponse) error {
	env := struct {
		Seq        dapmsg.Seq      `json:"seq"`
		Type       dapmsg.Kind     `json:"type"`
		RequestSeq dapmsg.Seq      `json:"request_seq"`
		Success    bool            `json:"success"`
		Command    string          `json:"command"`
		Message    string          `json:"message,omitempty"`
		Body       json.RawMessage `json:"body,omitempty"`
	}{
		Seq:        seq,
		Type:       dapmsg.KindResponse,
		RequestSeq: msg.RequestSeq,
		Success:    msg.Success,
		Command:    msg.Command,
		Message:    msg.Message,
		Body:       msg.Body,
	}
	return e.writeFrame(env)
}

func (e *Encoder) writeFrame(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJSONSerialize, err)
	}
	if _, err := fmt.Fprintf(e.w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	if _, err := e.w.Write(body); err != nil {
		return err
	}
	return nil
}

// Frame is a standalone helper (no io.Writer needed) used by tests to
// build raw wire bytes for a given envelope value, mirroring crates/transport2/src/testing::frame_message.
func Frame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONSerialize, err)
	}
	return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)), nil
}
