package jsonx

import (
	"errors"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	in := point{X: 1, Y: 2}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out point
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

type stubCodec struct {
	marshalErr error
}

func (s stubCodec) Marshal(v any) ([]byte, error) {
	if s.marshalErr != nil {
		return nil, s.marshalErr
	}
	return []byte(`"stub"`), nil
}

func (s stubCodec) Unmarshal(data []byte, v any) error { return nil }

func TestSetInstallsCustomCodec(t *testing.T) {
	original := current
	defer Set(original)

	Set(stubCodec{})
	data, err := Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"stub"` {
		t.Fatalf("expected stub codec output, got %q", data)
	}
}

func TestSetPropagatesMarshalError(t *testing.T) {
	original := current
	defer Set(original)

	sentinel := errors.New("boom")
	Set(stubCodec{marshalErr: sentinel})

	if _, err := Marshal(nil); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}
