// Package jsonx holds the process-wide JSON codec used to marshal and
// unmarshal Oracle JSON-type column values (§9 design note). It is a
// mutable slot, not a fixed codec: callers can swap in a different
// implementation (e.g. for a faster or stricter encoder) at process start,
// before any connection touches a JSON column.
package jsonx

import (
	"encoding/json"
	"sync"
)

// Codec marshals and unmarshals Go values to and from Oracle's JSON column
// wire representation.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type stdCodec struct{}

func (stdCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (stdCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	mu      sync.RWMutex
	current Codec = stdCodec{}
)

// Set installs codec as the process-wide JSON codec. It should be called
// once, early, before any connection decodes a JSON column — swapping
// codecs mid-flight is supported by the lock but not a recommended usage
// pattern.
func Set(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	current = codec
}

// Marshal encodes v using the currently installed codec.
func Marshal(v any) ([]byte, error) {
	mu.RLock()
	codec := current
	mu.RUnlock()
	return codec.Marshal(v)
}

// Unmarshal decodes data into v using the currently installed codec.
func Unmarshal(data []byte, v any) error {
	mu.RLock()
	codec := current
	mu.RUnlock()
	return codec.Unmarshal(data, v)
}
