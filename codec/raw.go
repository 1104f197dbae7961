package codec

// Bytes is an identity codec for []byte values. Encode/Decode return the
// input unchanged. Useful for payloads shared with non-Go readers of the
// same store, where the bytes are already in their final format.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings verbatim, e.g. bearer tokens. It assumes UTF-8
// and performs no validation.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
