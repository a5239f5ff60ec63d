// Package canonical produces the byte-exact serialization that every state and
// record hash in the kernel is computed over.
//
// The form is JSON with object keys sorted lexicographically at every nesting
// level, no insignificant whitespace, no HTML escaping, and numbers carried
// through verbatim. Two implementations that agree on this form agree on every
// digest, which is what cross-implementation replay verification relies on.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical encoding of v. Struct values are first encoded
// through their json tags, then re-encoded as generic maps so that key order is
// independent of field declaration order.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash canonicalizes v and returns its SHA-256 digest as lowercase hex.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// MustHash is Hash for values whose shape is fixed by this module. A failure
// means a non-serializable type was placed into kernel state, which is a
// programming error.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}
