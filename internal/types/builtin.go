package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lodeworks/lode/internal/canon"
)

// detEnc is the deterministic CBOR encode mode shared by the scalar
// built-ins. Core deterministic encoding guarantees identical data
// always encodes to identical bytes, which the hash contract requires.
var detEnc = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
	return em
}

// StringType is the built-in scalar string type.
type StringType struct{}

func (StringType) Name() string { return "string" }

func (StringType) Characteristics() Characteristics { return Characteristics{IsScalar: true} }

func (StringType) Parse(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case canon.String:
		return string(v), nil
	default:
		return nil, fmt.Errorf("string type: cannot parse %T", raw)
	}
}

func (StringType) Validate(data any) error {
	if _, ok := data.(string); !ok {
		return fmt.Errorf("string type: expected string, got %T", data)
	}
	return nil
}

func (t StringType) Encode(data any) ([]byte, error) {
	s, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("string type: cannot encode %T", data)
	}
	return detEnc.Marshal(s)
}

func (StringType) Decode(b []byte) (any, error) {
	var s string
	if err := cbor.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("string type: decode: %w", err)
	}
	return s, nil
}

func (t StringType) Hash(data any) (string, error) { return encodedHash(t, data) }

func (t StringType) Size(data any) (int64, error) { return encodedSize(t, data) }

// IntegerType is the built-in scalar integer type. Always int64.
type IntegerType struct{}

func (IntegerType) Name() string { return "integer" }

func (IntegerType) Characteristics() Characteristics { return Characteristics{IsScalar: true} }

func (IntegerType) Parse(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case canon.Int:
		return int64(v), nil
	default:
		return nil, fmt.Errorf("integer type: cannot parse %T", raw)
	}
}

func (IntegerType) Validate(data any) error {
	if _, ok := data.(int64); !ok {
		return fmt.Errorf("integer type: expected int64, got %T", data)
	}
	return nil
}

func (IntegerType) Encode(data any) ([]byte, error) {
	n, ok := data.(int64)
	if !ok {
		return nil, fmt.Errorf("integer type: cannot encode %T", data)
	}
	return detEnc.Marshal(n)
}

func (IntegerType) Decode(b []byte) (any, error) {
	var n int64
	if err := cbor.Unmarshal(b, &n); err != nil {
		return nil, fmt.Errorf("integer type: decode: %w", err)
	}
	return n, nil
}

func (t IntegerType) Hash(data any) (string, error) { return encodedHash(t, data) }

func (t IntegerType) Size(data any) (int64, error) { return encodedSize(t, data) }

// BooleanType is the built-in scalar boolean type.
type BooleanType struct{}

func (BooleanType) Name() string { return "boolean" }

func (BooleanType) Characteristics() Characteristics { return Characteristics{IsScalar: true} }

func (BooleanType) Parse(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case canon.Bool:
		return bool(v), nil
	default:
		return nil, fmt.Errorf("boolean type: cannot parse %T", raw)
	}
}

func (BooleanType) Validate(data any) error {
	if _, ok := data.(bool); !ok {
		return fmt.Errorf("boolean type: expected bool, got %T", data)
	}
	return nil
}

func (BooleanType) Encode(data any) ([]byte, error) {
	b, ok := data.(bool)
	if !ok {
		return nil, fmt.Errorf("boolean type: cannot encode %T", data)
	}
	return detEnc.Marshal(b)
}

func (BooleanType) Decode(b []byte) (any, error) {
	var v bool
	if err := cbor.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("boolean type: decode: %w", err)
	}
	return v, nil
}

func (t BooleanType) Hash(data any) (string, error) { return encodedHash(t, data) }

func (t BooleanType) Size(data any) (int64, error) { return encodedSize(t, data) }

// BytesType is the built-in raw byte blob type.
type BytesType struct{}

func (BytesType) Name() string { return "bytes" }

func (BytesType) Characteristics() Characteristics { return Characteristics{} }

func (BytesType) Parse(raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("bytes type: cannot parse %T", raw)
	}
}

func (BytesType) Validate(data any) error {
	if _, ok := data.([]byte); !ok {
		return fmt.Errorf("bytes type: expected []byte, got %T", data)
	}
	return nil
}

func (BytesType) Encode(data any) ([]byte, error) {
	b, ok := data.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytes type: cannot encode %T", data)
	}
	return detEnc.Marshal(b)
}

func (BytesType) Decode(b []byte) (any, error) {
	var v []byte
	if err := cbor.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("bytes type: decode: %w", err)
	}
	return v, nil
}

func (t BytesType) Hash(data any) (string, error) { return encodedHash(t, data) }

func (t BytesType) Size(data any) (int64, error) { return encodedSize(t, data) }

// ObjectType is the built-in structured object type. Its in-memory form
// is canon.Object; its byte form is canonical JSON, which is already
// deterministic, so the CBOR codec is not needed here.
type ObjectType struct{}

func (ObjectType) Name() string { return "object" }

func (ObjectType) Characteristics() Characteristics { return Characteristics{} }

func (ObjectType) Parse(raw any) (any, error) {
	switch v := raw.(type) {
	case canon.Object:
		return v, nil
	case map[string]any:
		cv, err := canon.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("object type: %w", err)
		}
		return cv.(canon.Object), nil
	default:
		return nil, fmt.Errorf("object type: cannot parse %T", raw)
	}
}

func (ObjectType) Validate(data any) error {
	if _, ok := data.(canon.Object); !ok {
		return fmt.Errorf("object type: expected canon.Object, got %T", data)
	}
	return nil
}

func (ObjectType) Encode(data any) ([]byte, error) {
	obj, ok := data.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("object type: cannot encode %T", data)
	}
	return canon.MarshalCanonical(obj)
}

func (ObjectType) Decode(b []byte) (any, error) {
	v, err := canon.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("object type: decode: %w", err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("object type: decoded %T, expected object", v)
	}
	return obj, nil
}

func (t ObjectType) Hash(data any) (string, error) { return encodedHash(t, data) }

func (t ObjectType) Size(data any) (int64, error) { return encodedSize(t, data) }

// encodedHash derives the content hash from the deterministic encoding.
func encodedHash(s Serializable, data any) (string, error) {
	b, err := s.Encode(data)
	if err != nil {
		return "", err
	}
	return canon.DataHash(b), nil
}

// encodedSize derives the byte size from the deterministic encoding.
func encodedSize(s Serializable, data any) (int64, error) {
	b, err := s.Encode(data)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
