package cog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decodeTagValue decodes count values of field type ft out of raw
// (exactly count*ft.Length bytes).
func decodeTagValue(raw []byte, ft FieldType, count uint32, order binary.ByteOrder) (interface{}, error) {
	want := int(count) * int(ft.Length)
	if len(raw) < want {
		return nil, TruncatedError{Want: int64(want - len(raw))}
	}
	raw = raw[:want]

	switch ft.Code {
	case tByte, tUndefined, tSByte:
		out := make([]byte, count)
		copy(out, raw)
		return out, nil
	case tAscii:
		// Drop the NUL terminator encodeTagValue appends, so ASCII values
		// round-trip with an unchanged Count.
		s := string(raw)
		if len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return s, nil
	case tShort, tSShort:
		out := make([]uint16, count)
		for i := range out {
			out[i] = order.Uint16(raw[i*2:])
		}
		return out, nil
	case tLong, tSLong:
		out := make([]uint32, count)
		for i := range out {
			out[i] = order.Uint32(raw[i*4:])
		}
		return out, nil
	case tLong8:
		out := make([]uint64, count)
		for i := range out {
			out[i] = order.Uint64(raw[i*8:])
		}
		return out, nil
	case tFloat:
		out := make([]float64, count)
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
		return out, nil
	case tDouble:
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
		return out, nil
	case tRational, tSRational:
		// Two LONGs per value (numerator, denominator); RATIONAL is treated
		// uniformly as a sequence of numeric values.
		out := make([]uint32, count*2)
		for i := range out {
			out[i] = order.Uint32(raw[i*4:])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cog: unsupported field type code %d", ft.Code)
	}
}

// encodeTagValue serializes a Tag.Value back to its on-disk type code,
// count and raw bytes. The set of accepted Go types mirrors decodeTagValue's
// output exactly, so Open(Write(cog)) round-trips.
//
// typeHint is the tag's original on-disk type code, as recorded on Tag.Type
// when it was parsed (0 if the tag is newly synthesized). decodeTagValue
// collapses both RATIONAL and SRATIONAL into a flat []uint32 of numerator/
// denominator pairs; without typeHint that value would always be
// re-emitted as a LONG array, doubling Count and losing the rational
// semantics. A []uint32 value is only reinterpreted as rational pairs when
// typeHint says so; otherwise it is written back as LONG (or SLONG). The
// hint likewise keeps UNDEFINED/SBYTE, SSHORT and FLOAT tags from being
// re-emitted as BYTE, SHORT and DOUBLE.
func encodeTagValue(value interface{}, typeHint uint16, order binary.ByteOrder) (typeCode uint16, count uint32, data []byte, err error) {
	switch v := value.(type) {
	case []byte:
		if typeHint == tUndefined || typeHint == tSByte {
			return typeHint, uint32(len(v)), append([]byte(nil), v...), nil
		}
		return tByte, uint32(len(v)), append([]byte(nil), v...), nil
	case string:
		// ASCII values are NUL-terminated on disk; count includes the
		// terminator.
		b := make([]byte, len(v)+1)
		copy(b, v)
		return tAscii, uint32(len(b)), b, nil
	case []uint16:
		data = make([]byte, len(v)*2)
		for i, x := range v {
			order.PutUint16(data[i*2:], x)
		}
		if typeHint == tSShort {
			return tSShort, uint32(len(v)), data, nil
		}
		return tShort, uint32(len(v)), data, nil
	case []uint32:
		data = make([]byte, len(v)*4)
		for i, x := range v {
			order.PutUint32(data[i*4:], x)
		}
		if typeHint == tRational || typeHint == tSRational {
			if len(v)%2 != 0 {
				return 0, 0, nil, fmt.Errorf("cog: rational tag value has odd length %d", len(v))
			}
			return typeHint, uint32(len(v) / 2), data, nil
		}
		if typeHint == tSLong {
			return tSLong, uint32(len(v)), data, nil
		}
		return tLong, uint32(len(v)), data, nil
	case []uint64:
		data = make([]byte, len(v)*8)
		for i, x := range v {
			order.PutUint64(data[i*8:], x)
		}
		return tLong8, uint32(len(v)), data, nil
	case []float64:
		if typeHint == tFloat {
			data = make([]byte, len(v)*4)
			for i, x := range v {
				order.PutUint32(data[i*4:], math.Float32bits(float32(x)))
			}
			return tFloat, uint32(len(v)), data, nil
		}
		data = make([]byte, len(v)*8)
		for i, x := range v {
			order.PutUint64(data[i*8:], math.Float64bits(x))
		}
		return tDouble, uint32(len(v)), data, nil
	default:
		return 0, 0, nil, fmt.Errorf("cog: unsupported tag value type %T", v)
	}
}
