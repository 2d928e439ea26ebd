package cog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSingleTileCog(t *testing.T, tileData []byte, compression uint16) *Cog {
	t.Helper()
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 256, code: tLong, count: 1, value: longBytes(2)},
			{id: 257, code: tLong, count: 1, value: longBytes(2)},
			{id: 322, code: tLong, count: 1, value: longBytes(2)},
			{id: 323, code: tLong, count: 1, value: longBytes(2)},
			{id: 259, code: tShort, count: 1, value: shortBytes(compression)},
			{id: 277, code: tShort, count: 1, value: shortBytes(1)},
			{id: 324, code: tLong, count: 1, value: longBytes(200)},
			{id: 325, code: tLong, count: 1, value: longBytes(uint32(len(tileData)))},
		},
	})
	tileOffset := uint32(len(raw))
	raw = append(raw, tileData...)
	raw = fixTileOffset(t, raw, tileOffset)

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)
	return cog
}

func TestWriteRoundTripsIdentityTile(t *testing.T) {
	tileData := []byte{10, 20, 30, 40}
	cog := buildSingleTileCog(t, tileData, CompressionNone)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cog))

	out, err := Open(NewMemorySource(buf.Bytes()))
	require.NoError(t, err)
	registry := NewDefaultCodecRegistry()
	raw, _, err := out.ReadTile(0, 0, 0, false, registry)
	require.NoError(t, err)
	assert.Equal(t, tileData, raw)
}

func TestWriteTranscodesToLZW(t *testing.T) {
	tileData := []byte{1, 1, 1, 1} // matches the 2x2x1-sample tile geometry buildSingleTileCog sets up
	cog := buildSingleTileCog(t, tileData, CompressionNone)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cog, WithDestinationCodec(NewLZWEncoder())))

	out, err := Open(NewMemorySource(buf.Bytes()))
	require.NoError(t, err)
	assert.EqualValues(t, CompressionLZW, out.IFDs[0].Compression())

	registry := NewDefaultCodecRegistry()
	_, pix, err := out.ReadTile(0, 0, 0, true, registry)
	require.NoError(t, err)
	require.NotNil(t, pix)
	assert.Equal(t, tileData, pix.Bytes)
}

func TestWriteProducesValidTagOrdering(t *testing.T) {
	tileData := []byte{5, 6, 7, 8}
	cog := buildSingleTileCog(t, tileData, CompressionNone)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cog))

	out, err := Open(NewMemorySource(buf.Bytes()))
	require.NoError(t, err)
	// tagOrder records the entries in the order they were read off disk.
	ifd := out.IFDs[0]
	var tags []*Tag
	for _, name := range ifd.tagOrder {
		tags = append(tags, ifd.Tags[name])
	}
	for i := 1; i < len(tags); i++ {
		assert.LessOrEqual(t, tags[i-1].Id, tags[i].Id, "tags must be written in ascending id order")
	}
}

func TestWriteRoundTripsRationalTag(t *testing.T) {
	tileData := []byte{5, 6, 7, 8}
	raw := buildTIFF(t, [][]tagSpec{
		{
			{id: 256, code: tLong, count: 1, value: longBytes(2)},
			{id: 257, code: tLong, count: 1, value: longBytes(2)},
			{id: 282, code: tRational, count: 1, value: longBytes(72, 1)}, // XResolution = 72/1
			{id: 322, code: tLong, count: 1, value: longBytes(2)},
			{id: 323, code: tLong, count: 1, value: longBytes(2)},
			{id: 259, code: tShort, count: 1, value: shortBytes(CompressionNone)},
			{id: 277, code: tShort, count: 1, value: shortBytes(1)},
			{id: 324, code: tLong, count: 1, value: longBytes(200)},
			{id: 325, code: tLong, count: 1, value: longBytes(uint32(len(tileData)))},
		},
	})
	tileOffset := uint32(len(raw))
	raw = append(raw, tileData...)
	raw = fixTileOffset(t, raw, tileOffset)

	cog, err := Open(NewMemorySource(raw))
	require.NoError(t, err)

	xres, ok := cog.IFDs[0].Tag("XResolution")
	require.True(t, ok)
	assert.Equal(t, tRational, xres.Type.Code)
	assert.EqualValues(t, 1, xres.Count)
	assert.Equal(t, []uint32{72, 1}, xres.Value)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cog))

	out, err := Open(NewMemorySource(buf.Bytes()))
	require.NoError(t, err)
	xres, ok = out.IFDs[0].Tag("XResolution")
	require.True(t, ok)
	assert.Equal(t, tRational, xres.Type.Code, "rational tag must round-trip as RATIONAL, not LONG")
	assert.EqualValues(t, 1, xres.Count, "rational Count must not double on round-trip")
	assert.Equal(t, []uint32{72, 1}, xres.Value)
}

func TestWriteRejectsCogWithNoIFDs(t *testing.T) {
	cog := &Cog{Header: Header{Endian: LittleEndian, Version: VersionClassic}}
	var buf bytes.Buffer
	err := Write(&buf, cog)
	assert.Error(t, err)
}
