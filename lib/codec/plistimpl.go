package codec

import (
	"encoding/json"
	"fmt"
)

// NewPropertyListCodec creates a codec restricted to primitive container
// types: nil, bool, string, float64, int, int64, []interface{} and
// map[string]interface{}. It is faster than the default codec and its
// output is interchangeable with plain JSON configuration stores.
//
// Note: all numbers decode as float64, so callers that need exact integer
// round trips should use the default codec instead.
func NewPropertyListCodec() ICodec {
	return &plistCodecImpl{}
}

// plistCodecImpl implements the ICodec interface using json encoding,
// rejecting any value outside the property-list type set.
type plistCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (p plistCodecImpl) Encode(v interface{}) ([]byte, error) {
	if err := validatePlist(v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (p plistCodecImpl) Decode(b []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// validatePlist walks a value and rejects anything outside the
// property-list type set.
func validatePlist(v interface{}) error {
	switch val := v.(type) {
	case nil, bool, string, float64, int, int64:
		return nil
	case []interface{}:
		for _, item := range val {
			if err := validatePlist(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]interface{}:
		for _, item := range val {
			if err := validatePlist(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("codec: type %T is not a property-list type", v)
	}
}
