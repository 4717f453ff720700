package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// encoded size: 8 byte unix seconds + 4 byte nanoseconds
const timestampSize = 12

// NewTimestampCodec creates the fastest codec, supporting exactly one value
// shape: a single time.Time. It is intended for metadata that is simply a
// timestamp (e.g. last-modified instants) and encodes to a fixed 12 bytes.
func NewTimestampCodec() ICodec {
	return &timestampCodecImpl{}
}

// timestampCodecImpl implements the ICodec interface for a single time.Time scalar
type timestampCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (t timestampCodecImpl) Encode(v interface{}) ([]byte, error) {
	ts, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("codec: timestamp codec requires time.Time, got %T", v)
	}

	b := make([]byte, timestampSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(ts.Unix()))
	binary.LittleEndian.PutUint32(b[8:12], uint32(ts.Nanosecond()))
	return b, nil
}

func (t timestampCodecImpl) Decode(b []byte) (interface{}, error) {
	if len(b) != timestampSize {
		return nil, fmt.Errorf("codec: invalid timestamp encoding (%d bytes)", len(b))
	}

	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	nsec := int64(binary.LittleEndian.Uint32(b[8:12]))
	return time.Unix(sec, nsec).UTC(), nil
}
