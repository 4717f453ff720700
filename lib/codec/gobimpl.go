package codec

import (
	"bytes"
	"encoding/gob"
	"time"
)

// NewGobCodec creates the default codec using Go's binary gob format.
// It supports arbitrary object graphs, including nested maps, slices and
// registered user types. This is the codec used when a database is opened
// without explicit codec configuration.
func NewGobCodec() ICodec {
	return &gobCodecImpl{}
}

// Register makes a concrete type known to the default codec so it can be
// stored inside interface-typed values. This is a thin wrapper around
// gob.Register and follows the same rules: call it once per type, usually
// from an init function.
func Register(v interface{}) {
	gob.Register(v)
}

func init() {
	// common building blocks of stored object graphs
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
}

// envelope wraps the stored value so gob encodes the concrete type
// information alongside the data.
type envelope struct {
	V interface{}
}

// gobCodecImpl implements the ICodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(envelope{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(b []byte) (interface{}, error) {
	var env envelope
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return env.V, nil
}
