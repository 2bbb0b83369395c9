package amf0

import (
	"testing"

	"github.com/streamlayer/rtmpingest/internal/bitio"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	w := bitio.NewWriteBuffer(0)
	if err := Encode(w, v); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	r := bitio.NewReadBuffer(0)
	if err := r.Append(w.Take()); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected fully consumed buffer, %d bytes left", r.Remaining())
	}
	return got
}

func TestValueRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   Value
	}{
		{"number-zero", Number(0)},
		{"number-positive", Number(3.140000104904175)},
		{"number-negative", Number(-1)},
		{"bool-true", Boolean(true)},
		{"bool-false", Boolean(false)},
		{"string-empty", String("")},
		{"string-basic", String("rtmp://example/live")},
		{"null", Null()},
		{"undefined", Undefined()},
		{
			"object-flat",
			Object(
				Prop("app", String("live")),
				Prop("flashVer", String("FMLE/3.0")),
				Prop("objectEncoding", Number(0)),
			),
		},
		{
			"object-nested",
			Object(
				Prop("level", String("status")),
				Prop("ex", Object(Prop("code", Number(1)))),
			),
		},
		{
			"ecma-array",
			EcmaArray(
				Prop("duration", Number(0)),
				Prop("width", Number(1920)),
				Prop("height", Number(1080)),
			),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, tc.in)
			if got.Type != tc.in.Type {
				t.Fatalf("type: got %v want %v", got.Type, tc.in.Type)
			}
			switch tc.in.Type {
			case TypeNumber:
				if got.Number != tc.in.Number {
					t.Fatalf("number: got %v want %v", got.Number, tc.in.Number)
				}
			case TypeBoolean:
				if got.Boolean != tc.in.Boolean {
					t.Fatalf("bool: got %v want %v", got.Boolean, tc.in.Boolean)
				}
			case TypeString:
				if got.Str != tc.in.Str {
					t.Fatalf("string: got %q want %q", got.Str, tc.in.Str)
				}
			case TypeObject, TypeEcmaArray:
				if len(got.Properties) != len(tc.in.Properties) {
					t.Fatalf("properties: got %d want %d", len(got.Properties), len(tc.in.Properties))
				}
				for i, p := range tc.in.Properties {
					if got.Properties[i].Key != p.Key {
						t.Fatalf("property %d key: got %q want %q", i, got.Properties[i].Key, p.Key)
					}
				}
			}
		})
	}
}

func TestGetAndGetFold(t *testing.T) {
	obj := Object(
		Prop("app", String("live")),
		Prop("Type", String("nonprivate")),
	)
	if v, ok := obj.Get("app"); !ok || v.Str != "live" {
		t.Fatalf("Get(app): got %v, ok=%v", v, ok)
	}
	if _, ok := obj.Get("APP"); ok {
		t.Fatalf("Get should be case-sensitive")
	}
	if v, ok := obj.GetFold("type"); !ok || v.Str != "nonprivate" {
		t.Fatalf("GetFold(type): got %v, ok=%v", v, ok)
	}
}

func TestGetNextTypeInsideObjectDetectsEnd(t *testing.T) {
	w := bitio.NewWriteBuffer(0)
	// An empty object encodes directly to the empty-key + object-end
	// sentinel with nothing preceding it.
	if err := Encode(w, Object()); err != nil {
		t.Fatal(err)
	}
	r := bitio.NewReadBuffer(0)
	if err := r.Append(w.Take()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadByte(); err != nil { // consume the 0x03 object marker
		t.Fatal(err)
	}
	typ, err := GetNextType(r, true)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeObjectEnd {
		t.Fatalf("got %v want ObjectEnd", typ)
	}
	if r.Remaining() != 3 {
		t.Fatalf("GetNextType must not consume: expected 3 bytes left, got %d", r.Remaining())
	}
}

func TestSkipObject(t *testing.T) {
	w := bitio.NewWriteBuffer(0)
	if err := Encode(w, Object(Prop("a", Number(1)), Prop("b", String("x")))); err != nil {
		t.Fatal(err)
	}
	w.WriteBytes([]byte{0x05}) // trailing Null sentinel to confirm cursor lands after the object
	r := bitio.NewReadBuffer(0)
	if err := r.Append(w.Take()); err != nil {
		t.Fatal(err)
	}
	if err := Skip(r); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Remaining() != 1 {
		t.Fatalf("expected 1 byte left (trailing Null), got %d", r.Remaining())
	}
	tail, err := Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if tail.Type != TypeNull {
		t.Fatalf("got %v want Null", tail.Type)
	}
}
