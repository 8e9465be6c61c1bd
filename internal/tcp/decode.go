package tcp

import (
	"bytes"
	"encoding/json"
)

// decodePrefix attempts to decode exactly one JSON value from the leading
// bytes of buf. It succeeds only when that value is the entire buffer content
// read so far up to the decoder's consumed offset; per spec.md §4.1/§4.2,
// "success on first decodable prefix ... MUST be exactly one JSON value", so
// we report how many bytes the decoder actually consumed, letting the caller
// retain the remainder (the server processes one value per exchange; the
// client discards the remainder since each Send expects one response).
func decodePrefix(buf []byte) (value json.RawMessage, consumed int, ok bool) {
	if len(buf) == 0 {
		return nil, 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		// Either an incomplete value (more bytes needed) or malformed JSON
		// that might still resolve once interpreted against a different
		// boundary; in both cases we simply await more input, matching the
		// "invalid JSON -> server never replies" scenario in spec.md §8.
		return nil, 0, false
	}
	return raw, int(dec.InputOffset()), true
}
