package codec

// ICodec is the interface for all value codecs.
// A codec converts a value to its storable byte form and back.
// The database is configured with two codecs at open time: one for
// object values and one for metadata values.
type ICodec interface {
	// Encode serializes a value into a byte array.
	// It returns the serialized byte array and an error if any.
	Encode(v interface{}) ([]byte, error)
	// Decode deserializes a byte array back into a value.
	// It returns the decoded value and an error if any.
	Decode(b []byte) (interface{}, error)
}
