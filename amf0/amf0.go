// Package amf0 implements the Action Message Format v0 value grammar used by
// RTMP command and metadata messages: number, boolean, string, object, null,
// undefined and ecma-array, each recursively encodable/decodable against a
// bitio buffer.
//
// Value is a single tagged sum type carrying a Type tag plus whichever
// field that tag uses, so Skip and the decoder can pattern-match on the tag
// instead of relying on Go's dynamic interface{} dispatch.
package amf0

import (
	"math"

	"github.com/pkg/errors"

	"github.com/streamlayer/rtmpingest/internal/bitio"
)

// Type is the AMF0 marker byte identifying a Value's shape.
type Type uint8

const (
	TypeNumber    Type = 0x00
	TypeBoolean   Type = 0x01
	TypeString    Type = 0x02
	TypeObject    Type = 0x03
	TypeNull      Type = 0x05
	TypeUndefined Type = 0x06
	TypeEcmaArray Type = 0x08
	TypeObjectEnd Type = 0x09
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "Number"
	case TypeBoolean:
		return "Boolean"
	case TypeString:
		return "String"
	case TypeObject:
		return "Object"
	case TypeNull:
		return "Null"
	case TypeUndefined:
		return "Undefined"
	case TypeEcmaArray:
		return "EcmaArray"
	case TypeObjectEnd:
		return "ObjectEnd"
	default:
		return "Unsupported"
	}
}

// Property is one key/value pair of an Object or EcmaArray, in wire order.
type Property struct {
	Key   string
	Value Value
}

// Value is a tagged AMF0 value. Only the fields relevant to Type are
// meaningful; callers branch on Type before reading a field.
type Value struct {
	Type       Type
	Number     float64
	Boolean    bool
	Str        string
	Properties []Property // Object, EcmaArray
}

// Number constructs a Number value.
func Number(v float64) Value { return Value{Type: TypeNumber, Number: v} }

// Boolean constructs a Boolean value.
func Boolean(v bool) Value { return Value{Type: TypeBoolean, Boolean: v} }

// String constructs a String value.
func String(v string) Value { return Value{Type: TypeString, Str: v} }

// Null constructs a Null value.
func Null() Value { return Value{Type: TypeNull} }

// Undefined constructs an Undefined value.
func Undefined() Value { return Value{Type: TypeUndefined} }

// Object constructs an Object value from ordered properties.
func Object(props ...Property) Value {
	return Value{Type: TypeObject, Properties: props}
}

// EcmaArray constructs an EcmaArray value from ordered properties.
func EcmaArray(props ...Property) Value {
	return Value{Type: TypeEcmaArray, Properties: props}
}

// Prop is shorthand for building a Property.
func Prop(key string, v Value) Property {
	return Property{Key: key, Value: v}
}

// Get looks up a property by key, case-sensitively, returning ok=false if
// absent. Command-argument objects use case-insensitive lookup instead; see
// GetFold.
func (v Value) Get(key string) (Value, bool) {
	for _, p := range v.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// GetFold looks up a property by case-insensitive key match, as required for
// the connect command object's recognised keys.
func (v Value) GetFold(key string) (Value, bool) {
	for _, p := range v.Properties {
		if equalFold(p.Key, key) {
			return p.Value, true
		}
	}
	return Value{}, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Encode appends the wire representation of v to w.
func Encode(w *bitio.WriteBuffer, v Value) error {
	switch v.Type {
	case TypeNumber:
		w.WriteBytes([]byte{byte(TypeNumber)})
		bits := math.Float64bits(v.Number)
		return w.WriteBitsBE(bits, 64)
	case TypeBoolean:
		b := byte(0)
		if v.Boolean {
			b = 1
		}
		w.WriteBytes([]byte{byte(TypeBoolean), b})
		return nil
	case TypeString:
		return encodeString(w, v.Str)
	case TypeNull:
		w.WriteBytes([]byte{byte(TypeNull)})
		return nil
	case TypeUndefined:
		w.WriteBytes([]byte{byte(TypeUndefined)})
		return nil
	case TypeObject:
		w.WriteBytes([]byte{byte(TypeObject)})
		return encodeProperties(w, v.Properties)
	case TypeEcmaArray:
		w.WriteBytes([]byte{byte(TypeEcmaArray)})
		if err := w.WriteBitsBE(uint64(len(v.Properties)), 32); err != nil {
			return err
		}
		return encodeProperties(w, v.Properties)
	default:
		return errors.Errorf("amf0: unsupported value type %v for encode", v.Type)
	}
}

func encodeString(w *bitio.WriteBuffer, s string) error {
	if len(s) > 0xFFFF {
		return errors.Errorf("amf0: string too long: %d bytes", len(s))
	}
	w.WriteBytes([]byte{byte(TypeString)})
	if err := w.WriteBitsBE(uint64(len(s)), 16); err != nil {
		return err
	}
	w.WriteBytes([]byte(s))
	return nil
}

func encodeKey(w *bitio.WriteBuffer, s string) error {
	if len(s) > 0xFFFF {
		return errors.Errorf("amf0: key too long: %d bytes", len(s))
	}
	if err := w.WriteBitsBE(uint64(len(s)), 16); err != nil {
		return err
	}
	w.WriteBytes([]byte(s))
	return nil
}

func encodeProperties(w *bitio.WriteBuffer, props []Property) error {
	for _, p := range props {
		if err := encodeKey(w, p.Key); err != nil {
			return err
		}
		if err := Encode(w, p.Value); err != nil {
			return err
		}
	}
	// Empty-key + object-end sentinel.
	if err := w.WriteBitsBE(0, 16); err != nil {
		return err
	}
	w.WriteBytes([]byte{byte(TypeObjectEnd)})
	return nil
}

// GetNextType peeks the marker byte at the read cursor without consuming it.
// When insideObject is true and the cursor stands on the empty-key +
// object-end sentinel, it returns TypeObjectEnd without consuming anything,
// per the object/ecma-array termination grammar.
func GetNextType(r *bitio.ReadBuffer, insideObject bool) (Type, error) {
	if insideObject {
		if keyLen, err := r.PeekUint(2, bitio.BigEndian, 0); err == nil && keyLen == 0 {
			if tag, err := r.PeekUint(1, bitio.BigEndian, 2); err == nil && Type(tag) == TypeObjectEnd {
				return TypeObjectEnd, nil
			}
		}
	}
	tag, err := r.PeekUint(1, bitio.BigEndian, 0)
	if err != nil {
		return 0, err
	}
	return Type(tag), nil
}

// Decode reads one AMF0 value from r, recursively for Object/EcmaArray.
func Decode(r *bitio.ReadBuffer) (Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch Type(tagByte) {
	case TypeNumber:
		bits, err := r.ReadUint(8, bitio.BigEndian)
		if err != nil {
			return Value{}, err
		}
		return Number(math.Float64frombits(bits)), nil
	case TypeBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Boolean(b != 0), nil
	case TypeString:
		s, err := decodeRawString(r)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case TypeNull:
		return Null(), nil
	case TypeUndefined:
		return Undefined(), nil
	case TypeObject:
		props, err := decodeProperties(r)
		if err != nil {
			return Value{}, err
		}
		return Object(props...), nil
	case TypeEcmaArray:
		// Associative count is a hint only; termination still follows the
		// object-end sentinel.
		if _, err := r.ReadUint(4, bitio.BigEndian); err != nil {
			return Value{}, err
		}
		props, err := decodeProperties(r)
		if err != nil {
			return Value{}, err
		}
		return EcmaArray(props...), nil
	case TypeObjectEnd:
		return Value{Type: TypeObjectEnd}, nil
	default:
		return Value{}, errors.Errorf("amf0: unsupported marker 0x%02x", tagByte)
	}
}

func decodeRawString(r *bitio.ReadBuffer) (string, error) {
	n, err := r.ReadUint(2, bitio.BigEndian)
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeProperties(r *bitio.ReadBuffer) ([]Property, error) {
	var props []Property
	for {
		typ, err := GetNextType(r, true)
		if err != nil {
			return nil, err
		}
		if typ == TypeObjectEnd {
			// consume the empty key + end marker
			if _, err := r.ReadUint(2, bitio.BigEndian); err != nil {
				return nil, err
			}
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
			return props, nil
		}
		key, err := decodeRawString2(r)
		if err != nil {
			return nil, err
		}
		val, err := Decode(r)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Key: key, Value: val})
	}
}

// decodeRawString2 reads a (u16 length, bytes) key that is not prefixed by
// the 0x02 string type tag — the object-key grammar, distinct from a
// standalone AMF0 string value.
func decodeRawString2(r *bitio.ReadBuffer) (string, error) {
	n, err := r.ReadUint(2, bitio.BigEndian)
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Skip consumes exactly one value at the read cursor without returning it,
// recursing into objects/ecma-arrays. Used by the message parser to ignore
// fields it does not recognise.
func Skip(r *bitio.ReadBuffer) error {
	_, err := Decode(r)
	return err
}
