package redistransport

import "github.com/ryanflavor/aegistrader/internal/codec"

// requestFrame wraps a Request() payload with the ephemeral reply subject
// the responder must publish its answer to. Subscribe decodes this frame
// transparently so handlers only ever see the inner Payload.
type requestFrame struct {
	ReplySubject string `msgpack:"reply_subject"`
	Payload      []byte `msgpack:"payload"`
}

func encodeFrame(replySubject string, payload []byte) ([]byte, error) {
	return codec.Encode(requestFrame{ReplySubject: replySubject, Payload: payload})
}

func decodeFrame(data []byte) (requestFrame, error) {
	var f requestFrame
	_, err := codec.Decode(data, &f)
	return f, err
}
