package codec

import "errors"

// Sentinel errors for the decoder/encoder. Wrap with fmt.Errorf("...: %w", ...) where extra context is
// useful; callers resolve the kind with errors.Is.
var (
	// ErrInvalidUTF8 is returned when the header block is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("dapcore/codec: invalid utf-8 in header")

	// ErrMissingContentLength is returned when no Content-Length header
	// is present in an otherwise well-formed header block.
	ErrMissingContentLength = errors.New("dapcore/codec: missing Content-Length header")

	// ErrMalformedContentLength is returned when Content-Length is
	// present but its value doesn't parse as a non-negative integer.
	ErrMalformedContentLength = errors.New("dapcore/codec: malformed Content-Length header")

	// ErrJSONDeserialize wraps a body that failed to parse as JSON.
	ErrJSONDeserialize = errors.New("dapcore/codec: json deserialize failed")

	// ErrJSONSerialize wraps an outgoing message that failed to marshal.
	ErrJSONSerialize = errors.New("dapcore/codec: json serialize failed")
)

// MessageTooLargeError is returned when a frame's Content-Length exceeds
// the configured maximum. It is a distinct type (rather than a sentinel)
// because callers may want the offending size and limit.
type MessageTooLargeError struct {
	Size int
	Max  int
}

func (e *MessageTooLargeError) Error() string {
	return "dapcore/codec: message size exceeds maximum allowed"
}
