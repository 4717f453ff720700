package codec

import (
	"reflect"
	"testing"
	"time"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() ICodec{
	"Gob":          NewGobCodec,
	"PropertyList": NewPropertyListCodec,
}

// testValues creates a set of values every general-purpose codec must round trip
func testValues() []interface{} {
	return []interface{}{
		nil,
		true,
		"test-value",
		float64(42.5),
		[]interface{}{"a", "b", float64(3)},
		map[string]interface{}{
			"name":    "willow",
			"enabled": true,
			"weights": []interface{}{float64(1), float64(2)},
		},
	}
}

// TestCodecRoundTrip tests that values can be encoded and decoded correctly
func TestCodecRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			for _, v := range testValues() {
				b, err := c.Encode(v)
				if err != nil {
					t.Fatalf("Encode(%v) failed: %v", v, err)
				}

				got, err := c.Decode(b)
				if err != nil {
					t.Fatalf("Decode of %v failed: %v", v, err)
				}

				if !reflect.DeepEqual(got, v) {
					t.Errorf("round trip mismatch: got %#v, want %#v", got, v)
				}
			}
		})
	}
}

// TestGobCodecCustomType tests round trips of a registered user type
func TestGobCodecCustomType(t *testing.T) {
	type person struct {
		Name string
		Age  int
	}
	Register(person{})

	c := NewGobCodec()
	want := person{Name: "alice", Age: 30}

	b, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.(person) != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// TestPropertyListCodecRejectsNonPlistTypes tests the restricted type set
func TestPropertyListCodecRejectsNonPlistTypes(t *testing.T) {
	c := NewPropertyListCodec()

	type custom struct{ X int }

	rejected := []interface{}{
		custom{X: 1},
		map[int]string{1: "a"},
		make(chan int),
	}

	for _, v := range rejected {
		if _, err := c.Encode(v); err == nil {
			t.Errorf("expected encode of %T to fail", v)
		}
	}
}

// TestTimestampCodecRoundTrip tests the fixed-size timestamp encoding
func TestTimestampCodecRoundTrip(t *testing.T) {
	c := NewTimestampCodec()

	want := time.Date(2024, 6, 1, 12, 30, 45, 123456789, time.UTC)

	b, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(b) != timestampSize {
		t.Errorf("expected %d byte encoding, got %d", timestampSize, len(b))
	}

	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !got.(time.Time).Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestTimestampCodecRejectsOtherTypes tests that only time.Time is accepted
func TestTimestampCodecRejectsOtherTypes(t *testing.T) {
	c := NewTimestampCodec()

	if _, err := c.Encode("2024-06-01"); err == nil {
		t.Error("expected encode of string to fail")
	}

	if _, err := c.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected decode of short input to fail")
	}
}
