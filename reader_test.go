package cog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagSpec describes one IFD entry for buildTIFF, a from-scratch encoder
// independent of field.go/writer.go, so reader tests exercise Open against
// bytes it did not help produce.
type tagSpec struct {
	id    uint16
	code  uint16
	count uint32
	value []byte // exactly count*length(code) bytes
}

// buildTIFF hand-assembles a classic little-endian TIFF: header, then each
// ifd's entries (inline if <=4 bytes, else appended to an out-of-line area
// placed after all IFDs), chained via NextIFDOffset.
func buildTIFF(t *testing.T, ifds [][]tagSpec) []byte {
	t.Helper()
	order := binary.LittleEndian

	ifdOffsets := make([]uint32, len(ifds))
	off := uint32(8)
	for i, tags := range ifds {
		ifdOffsets[i] = off
		off += 2 + 12*uint32(len(tags)) + 4
	}
	overflowStart := off

	var body []byte
	var overflow []byte
	for i, tags := range ifds {
		var buf []byte
		count := make([]byte, 2)
		order.PutUint16(count, uint16(len(tags)))
		buf = append(buf, count...)

		for _, tag := range tags {
			entry := make([]byte, 12)
			order.PutUint16(entry[0:2], tag.id)
			order.PutUint16(entry[2:4], tag.code)
			order.PutUint32(entry[4:8], tag.count)
			if len(tag.value) <= 4 {
				copy(entry[8:12], tag.value)
			} else {
				valOff := overflowStart + uint32(len(overflow))
				order.PutUint32(entry[8:12], valOff)
				overflow = append(overflow, tag.value...)
			}
			buf = append(buf, entry...)
		}

		next := make([]byte, 4)
		if i < len(ifds)-1 {
			order.PutUint32(next, ifdOffsets[i+1])
		}
		buf = append(buf, next...)
		body = append(body, buf...)
	}

	out := make([]byte, 8)
	copy(out[0:2], "II")
	order.PutUint16(out[2:4], uint16(VersionClassic))
	order.PutUint32(out[4:8], ifdOffsets[0])
	out = append(out, body...)
	out = append(out, overflow...)
	return out
}

func shortBytes(vs ...uint16) []byte {
	out := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func longBytes(vs ...uint32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func TestOpenHeaderAndSingleIFDInlineTags(t *testing.T) {
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 256, code: tShort, count: 1, value: shortBytes(4)}, // ImageWidth
			{id: 257, code: tShort, count: 1, value: shortBytes(4)}, // ImageHeight
		},
	})

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	assert.Equal(t, LittleEndian, cog.Header.Endian)
	assert.Equal(t, VersionClassic, cog.Header.Version)
	require.Len(t, cog.IFDs, 1)
	assert.EqualValues(t, 4, cog.IFDs[0].ImageWidth())
	assert.EqualValues(t, 4, cog.IFDs[0].ImageHeight())
}

func TestOpenOutOfLineTagValue(t *testing.T) {
	offsets := longBytes(100, 200, 300, 400)
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 324, code: tLong, count: 4, value: offsets}, // TileOffsets, >4 bytes -> out of line
		},
	})

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	got, ok := cog.IFDs[0].uint32Slice("TileOffsets")
	require.True(t, ok)
	assert.Equal(t, []uint32{100, 200, 300, 400}, got)
}

func TestOpenTwoIFDChain(t *testing.T) {
	raw := buildTIFF(t, [][]tagSpec{
		{{id: 256, code: tShort, count: 1, value: shortBytes(512)}},
		{{id: 256, code: tShort, count: 1, value: shortBytes(256)}},
	})

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	require.Len(t, cog.IFDs, 2)
	assert.EqualValues(t, 512, cog.IFDs[0].ImageWidth())
	assert.EqualValues(t, 256, cog.IFDs[1].ImageWidth())
	assert.Zero(t, cog.IFDs[1].NextIFDOffset)
}

func TestOpenUnknownTagIsRecoverableWarning(t *testing.T) {
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 256, code: tShort, count: 1, value: shortBytes(4)},
			{id: 0xBEEF, code: tShort, count: 1, value: shortBytes(1)}, // unregistered
		},
	})

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	assert.NotEmpty(t, cog.Warnings)
	_, ok := cog.IFDs[0].Tags["ImageWidth"]
	assert.True(t, ok)
}

func TestOpenInvalidMagic(t *testing.T) {
	raw := []byte{'X', 'Y', 42, 0, 0, 8, 0, 0}
	_, err := Open(NewMemorySource(raw))
	var me InvalidMagicError
	assert.ErrorAs(t, err, &me)
}

func TestOpenUnsupportedVersion(t *testing.T) {
	raw := make([]byte, 8)
	copy(raw[0:2], "II")
	binary.LittleEndian.PutUint16(raw[2:4], 7)
	binary.LittleEndian.PutUint32(raw[4:8], 8)
	_, err := Open(NewMemorySource(raw))
	var ve UnsupportedVersionError
	assert.ErrorAs(t, err, &ve)
}

func TestOpenRejectsBigTIFF(t *testing.T) {
	raw := make([]byte, 8)
	copy(raw[0:2], "II")
	binary.LittleEndian.PutUint16(raw[2:4], uint16(VersionBig))
	binary.LittleEndian.PutUint32(raw[4:8], 8)
	_, err := Open(NewMemorySource(raw))
	var ve UnsupportedVersionError
	assert.ErrorAs(t, err, &ve, "BigTIFF's 8-byte offset layout is not understood by readIFD")
}

func TestOpenGeoKeyDirectory(t *testing.T) {
	// GeoKeyDirectory header {1,1,0,2}, then two entries:
	//   GTModelType=2 (Geographic) inline (tag_location 0)
	//   GTCitation referencing GeoAsciiParams (tag 34737) at offset 0, count 7
	//   (the GeoTIFF ASCII-geokey convention: Count spans up to and including
	//   the "|" delimiter, excluding the tag's own NUL terminator)
	geoKeys := shortBytes(
		1, 1, 0, 2, // header: version, revision, minor, numberOfKeys
		1024, 0, 1, 2, // GTModelType = Geographic
		1026, 34737, 7, 0, // GTCitation -> GeoAsciiParams[0:7] = "WGS 84|"
	)
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 34735, code: tShort, count: uint32(len(geoKeys) / 2), value: geoKeys},
			{id: 34737, code: tAscii, count: 8, value: []byte("WGS 84|\x00")},
		},
	})

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	require.NotNil(t, cog.IFDs[0].GeoKeys)
	gtModel, ok := cog.IFDs[0].GeoKeys["GTModelType"]
	require.True(t, ok)
	assert.Equal(t, "Geographic", gtModel.ParsedValue)

	citation, ok := cog.IFDs[0].GeoKeys["GTCitation"]
	require.True(t, ok)
	assert.Equal(t, "WGS 84", citation.ParsedValue)
}

func TestReadTileIdentity(t *testing.T) {
	tileData := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 256, code: tLong, count: 1, value: longBytes(2)},     // ImageWidth
			{id: 257, code: tLong, count: 1, value: longBytes(2)},     // ImageHeight
			{id: 322, code: tLong, count: 1, value: longBytes(2)},     // TileWidth
			{id: 323, code: tLong, count: 1, value: longBytes(2)},     // TileHeight
			{id: 259, code: tShort, count: 1, value: shortBytes(1)},   // Compression=1 (none)
			{id: 277, code: tShort, count: 1, value: shortBytes(2)},   // SamplesPerPixel
			{id: 324, code: tLong, count: 1, value: longBytes(200)},   // TileOffsets (placeholder, patched by fixTileOffset below)
			{id: 325, code: tLong, count: 1, value: longBytes(uint32(len(tileData)))}, // TileByteCounts
		},
	})
	// buildTIFF has no notion of a separate tile-payload region, so append
	// the tile bytes after the TIFF structure and patch TileOffsets to
	// point at them.
	tileOffset := uint32(len(raw))
	raw = append(raw, tileData...)
	raw = fixTileOffset(t, raw, tileOffset)

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)

	registry := NewDefaultCodecRegistry()
	rawTile, pix, err := cog.ReadTile(0, 0, 0, true, registry)
	require.NoError(t, err)
	assert.Equal(t, tileData, rawTile)
	require.NotNil(t, pix)
	assert.Equal(t, tileData, pix.Bytes)
}

// fixTileOffset locates the TileOffsets (324) entry in a single-IFD buffer
// built by buildTIFF and overwrites its inline value with offset.
func fixTileOffset(t *testing.T, raw []byte, offset uint32) []byte {
	t.Helper()
	order := binary.LittleEndian
	ifdOff := int(order.Uint32(raw[4:8]))
	count := order.Uint16(raw[ifdOff : ifdOff+2])
	for i := 0; i < int(count); i++ {
		entryOff := ifdOff + 2 + i*12
		id := order.Uint16(raw[entryOff : entryOff+2])
		if id == 324 {
			order.PutUint32(raw[entryOff+8:entryOff+12], offset)
			return raw
		}
	}
	t.Fatal("TileOffsets tag not found")
	return nil
}
