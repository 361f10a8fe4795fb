// internal/protocol/frames.go
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned (wrapped) when part of a frame could not be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is one decoded inbound message. Raw keeps the full object for typed decoding.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Decode splits a frame that may carry several coalesced JSON objects and decodes each
// one. Objects that decode are returned even when others in the same frame are broken;
// in that case the error wraps ErrMalformedFrame.
func Decode(frame []byte) ([]Envelope, error) {
	objects, rest := SplitObjects(frame)
	var envs []Envelope
	var bad int
	for _, obj := range objects {
		var env Envelope
		if err := json.Unmarshal(obj, &env); err != nil || env.Type == "" {
			bad++
			continue
		}
		env.Raw = append(json.RawMessage(nil), obj...)
		envs = append(envs, env)
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		bad++
	}
	if bad > 0 {
		return envs, fmt.Errorf("%w: %d undecodable fragment(s)", ErrMalformedFrame, bad)
	}
	return envs, nil
}

// SplitObjects scans data for top-level JSON objects by brace matching, honoring string
// literals and escapes, so `{"a":1}{"b":2}` yields two objects. Bytes that do not belong
// to a complete object are returned as rest.
func SplitObjects(data []byte) (objects [][]byte, rest []byte) {
	depth := 0
	start := -1
	inString := false
	escaped := false
	var junk []byte

	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if depth > 0 {
				inString = true
			} else {
				junk = append(junk, b)
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				junk = append(junk, b)
				continue
			}
			depth--
			if depth == 0 {
				objects = append(objects, data[start:i+1])
				start = -1
			}
		default:
			if depth == 0 {
				junk = append(junk, b)
			}
		}
	}
	if depth > 0 && start >= 0 {
		junk = append(junk, data[start:]...)
	}
	return objects, junk
}

// Unmarshal decodes env into v.
func (env Envelope) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(env.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}
