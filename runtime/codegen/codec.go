package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
)

// Codec turns a single argument or result into an opaque blob and back.
// A Codec is not safe for concurrent use.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error

	// Reset discards any state left behind by a failed Encode or Decode.
	Reset()
}

// NewCodecFunc builds a fresh Codec. Servers create one per request.
type NewCodecFunc func() Codec

// BinaryCodec encodes values with the Serializer wire format. It supports the
// predeclared scalar types, strings, byte slices, AutoMarshal values and
// protobuf messages.
type BinaryCodec struct {
	enc *Serializer
}

var _ Codec = (*BinaryCodec)(nil)

func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{enc: NewSerializer()}
}

func (c *BinaryCodec) Reset() {
	c.enc = NewSerializer()
}

func (c *BinaryCodec) Encode(v any) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = CatchPanics(r)
		}
	}()

	c.enc.Reset()
	s := c.enc
	switch x := v.(type) {
	case nil:
		s.Bytes(nil)
	case bool:
		s.Bool(x)
	case int:
		s.Int(x)
	case int8:
		s.Int8(x)
	case int16:
		s.Int16(x)
	case int32:
		s.Int32(x)
	case int64:
		s.Int64(x)
	case uint:
		s.Uint(x)
	case uint8:
		s.Uint8(x)
	case uint16:
		s.Uint16(x)
	case uint32:
		s.Uint32(x)
	case uint64:
		s.Uint64(x)
	case float32:
		s.Float32(x)
	case float64:
		s.Float64(x)
	case complex64:
		s.Complex64(x)
	case complex128:
		s.Complex128(x)
	case string:
		s.String(x)
	case []byte:
		s.Bytes(x)
	case proto.Message:
		s.MarshalProto(x)
	case AutoMarshal:
		x.LightrpcMarshal(s)
	default:
		if am, ok := pointerTo(v).(AutoMarshal); ok {
			am.LightrpcMarshal(s)
			break
		}
		return nil, makeSerializerError("unsupported type %T", v)
	}

	return bytes.Clone(s.Data()), nil
}

func (c *BinaryCodec) Decode(data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = CatchPanics(r)
		}
	}()

	d := NewDeserializer(data)
	switch x := v.(type) {
	case *bool:
		*x = d.Bool()
	case *int:
		*x = d.Int()
	case *int8:
		*x = d.Int8()
	case *int16:
		*x = d.Int16()
	case *int32:
		*x = d.Int32()
	case *int64:
		*x = d.Int64()
	case *uint:
		*x = d.Uint()
	case *uint8:
		*x = d.Uint8()
	case *uint16:
		*x = d.Uint16()
	case *uint32:
		*x = d.Uint32()
	case *uint64:
		*x = d.Uint64()
	case *float32:
		*x = d.Float32()
	case *float64:
		*x = d.Float64()
	case *complex64:
		*x = d.Complex64()
	case *complex128:
		*x = d.Complex128()
	case *string:
		*x = strings.Clone(d.String())
	case *[]byte:
		*x = bytes.Clone(d.Bytes())
	case proto.Message:
		d.UnmarshalProto(x)
	case AutoMarshal:
		x.LightrpcUnmarshal(d)
	default:
		return makeDeserializerError("unsupported type %T", v)
	}

	if !d.Empty() {
		return makeDeserializerError("%d trailing bytes decoding %T", len(data)-d.index, v)
	}

	return nil
}

// CBORCodec encodes values as canonical CBOR (RFC 8949). Any type the cbor
// package accepts can be used as an argument or result.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = (*CBORCodec)(nil)

func NewCBORCodec() *CBORCodec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("cbor encode mode: %w", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Errorf("cbor decode mode: %w", err))
	}

	return &CBORCodec{enc: enc, dec: dec}
}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor: encode %T: %w", v, err)
	}

	return data, nil
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor: decode %T: %w", v, err)
	}

	return nil
}

// Reset is a no-op; CBORCodec keeps no per-call state.
func (c *CBORCodec) Reset() {}
