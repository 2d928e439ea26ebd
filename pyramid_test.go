package cog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCogWithLevels(widths, heights []uint32) *Cog {
	cog := &Cog{Header: Header{Endian: LittleEndian, Version: VersionClassic}}
	for i := range widths {
		ifd := &IFD{Tags: map[string]*Tag{}}
		ifd.setTag(&Tag{Name: "ImageWidth", Value: []uint32{widths[i]}})
		ifd.setTag(&Tag{Name: "ImageHeight", Value: []uint32{heights[i]}})
		ifd.setTag(&Tag{Name: "TileWidth", Value: []uint32{256}})
		ifd.setTag(&Tag{Name: "TileHeight", Value: []uint32{256}})
		cog.IFDs = append(cog.IFDs, ifd)
	}
	return cog
}

func TestBuildPyramidDescribesLevels(t *testing.T) {
	cog := testCogWithLevels([]uint32{1024, 512, 256}, []uint32{1024, 512, 256})
	pyr := BuildPyramid(cog)
	require.Len(t, pyr, 3)
	assert.EqualValues(t, 1024, pyr[0].Width)
	assert.EqualValues(t, 4, pyr[0].Columns)
	assert.EqualValues(t, 256, pyr[2].Width)
	assert.EqualValues(t, 1, pyr[2].Columns)
}

func TestLevelForResolution(t *testing.T) {
	cog := testCogWithLevels([]uint32{1024, 512, 256}, []uint32{1024, 512, 256})
	pyr := BuildPyramid(cog)

	assert.Equal(t, 0, pyr.LevelForResolution(1024, 1024))
	assert.Equal(t, 1, pyr.LevelForResolution(500, 500))
	assert.Equal(t, 2, pyr.LevelForResolution(10, 10))
}

func TestTileAt(t *testing.T) {
	cog := testCogWithLevels([]uint32{1024}, []uint32{1024})
	pyr := BuildPyramid(cog)

	tx, ty, err := pyr.TileAt(0, 300, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tx)
	assert.EqualValues(t, 1, ty)

	_, _, err = pyr.TileAt(0, 2000, 0)
	assert.Error(t, err)
}

func TestCorrespondingTile(t *testing.T) {
	cog := testCogWithLevels([]uint32{1024, 512}, []uint32{1024, 512})
	pyr := BuildPyramid(cog)

	// full-res tile (2,2) covers pixels [512:768), which at half resolution
	// maps to pixels [256:384), i.e. tile (1,1) in a 256-tile grid.
	tx, ty, err := pyr.CorrespondingTile(0, 1, 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tx)
	assert.EqualValues(t, 1, ty)
}
