package cog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeTagValueRoundTrip(t *testing.T) {
	orders := []binary.ByteOrder{binary.LittleEndian, binary.BigEndian}

	cases := []struct {
		name     string
		value    interface{}
		typeHint uint16
	}{
		{"bytes", []byte{1, 2, 3, 255}, 0},
		{"ascii", "EPSG:4326", 0},
		{"shorts", []uint16{0, 1, 256, 65535}, 0},
		{"longs", []uint32{0, 1, 1 << 20, 1<<32 - 1}, 0},
		{"long8s", []uint64{0, 1, 1 << 40}, 0},
		{"doubles", []float64{0, 1.5, -3.25, 1e10}, 0},
		{"rationals", []uint32{1, 2, 3600, 1}, tRational},
	}

	for _, order := range orders {
		for _, c := range cases {
			typeCode, count, data, err := encodeTagValue(c.value, c.typeHint, order)
			if !assert.NoErrorf(t, err, "%s/%v: encode", c.name, order) {
				continue
			}
			ft, ok := LookupFieldType(typeCode)
			if !assert.True(t, ok, "%s: unknown type code %d", c.name, typeCode) {
				continue
			}
			got, err := decodeTagValue(data, ft, count, order)
			assert.NoErrorf(t, err, "%s/%v: decode", c.name, order)
			assert.Equal(t, c.value, got, "%s/%v: round trip", c.name, order)
		}
	}
}

func TestEncodeTagValueAsciiNulTerminated(t *testing.T) {
	_, count, data, err := encodeTagValue("abc", 0, binary.LittleEndian)
	assert.NoError(t, err)
	assert.Equal(t, uint32(4), count)
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, data)
}

func TestDecodeTagValueRational(t *testing.T) {
	order := binary.LittleEndian
	raw := make([]byte, 8)
	order.PutUint32(raw[0:4], 1)
	order.PutUint32(raw[4:8], 2)
	ft, _ := LookupFieldType(tRational)

	v, err := decodeTagValue(raw, ft, 1, order)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, v)
}

func TestDecodeTagValueTruncated(t *testing.T) {
	ft, _ := LookupFieldType(tLong)
	_, err := decodeTagValue([]byte{1, 2, 3}, ft, 1, binary.LittleEndian)
	assert.Error(t, err)
	var te TruncatedError
	assert.ErrorAs(t, err, &te)
}

func TestEncodeTagValueUnsupportedType(t *testing.T) {
	_, _, _, err := encodeTagValue(42, 0, binary.LittleEndian)
	assert.Error(t, err)
}
