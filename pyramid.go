package cog

import "fmt"

// Level describes one resolution level of a Cog's overview pyramid: its
// pixel dimensions and its tile grid. This is read-side bookkeeping only:
// nothing here resizes, re-tiles or generates overviews; it only describes
// a pyramid a Cog already has on disk.
type Level struct {
	Index          int
	Width, Height  uint32
	TileWidth      uint32
	TileHeight     uint32
	Columns, Rows  uint32
}

// Pyramid is a Cog's resolution levels, ordered from full resolution
// (index 0) to coarsest, mirroring IFD chain order.
type Pyramid []Level

// BuildPyramid describes a Cog's resolution levels without decoding any
// tile data.
func BuildPyramid(cog *Cog) Pyramid {
	pyr := make(Pyramid, len(cog.IFDs))
	for i, ifd := range cog.IFDs {
		pyr[i] = Level{
			Index:      i,
			Width:      ifd.ImageWidth(),
			Height:     ifd.ImageHeight(),
			TileWidth:  ifd.TileWidth(),
			TileHeight: ifd.TileHeight(),
			Columns:    ifd.Columns(),
			Rows:       ifd.Rows(),
		}
	}
	return pyr
}

// LevelForResolution returns the coarsest level whose dimensions are at
// least targetWidth x targetHeight, the same "pick the overview at least as
// detailed as what's needed" policy GDAL-style overview selection follows.
// Level 0 (full resolution) is returned if no overview is that large.
func (p Pyramid) LevelForResolution(targetWidth, targetHeight uint32) int {
	best := 0
	for i, lvl := range p {
		if lvl.Width >= targetWidth && lvl.Height >= targetHeight {
			best = i
		}
	}
	return best
}

// TileAt maps pixel coordinates (x, y) within level lvl to the tile indices
// containing them, per the row-major tile ordering used throughout.
func (p Pyramid) TileAt(lvl int, x, y uint32) (tx, ty uint32, err error) {
	if lvl < 0 || lvl >= len(p) {
		return 0, 0, fmt.Errorf("cog: level %d out of range [0,%d)", lvl, len(p))
	}
	level := p[lvl]
	if level.TileWidth == 0 || level.TileHeight == 0 {
		return 0, 0, fmt.Errorf("cog: level %d has no tiling", lvl)
	}
	if x >= level.Width || y >= level.Height {
		return 0, 0, fmt.Errorf("cog: pixel (%d,%d) out of bounds for level %d (%dx%d)", x, y, lvl, level.Width, level.Height)
	}
	return x / level.TileWidth, y / level.TileHeight, nil
}

// CorrespondingTile maps a tile index at level `from` to the tile index at
// level `to` covering the same ground footprint, assuming (as every COG
// overview pyramid in practice does) that each successive level halves
// both dimensions. This lets a caller fetch, say, the overview tile
// standing in for a full-resolution tile without re-deriving pixel
// coordinates by hand.
func (p Pyramid) CorrespondingTile(from, to int, tx, ty uint32) (uint32, uint32, error) {
	if from < 0 || from >= len(p) || to < 0 || to >= len(p) {
		return 0, 0, fmt.Errorf("cog: level out of range")
	}
	fromLevel, toLevel := p[from], p[to]
	if fromLevel.TileWidth == 0 || toLevel.TileWidth == 0 {
		return 0, 0, fmt.Errorf("cog: level has no tiling")
	}
	// Pixel footprint of tile (tx,ty) at `from`, translated to `to`'s pixel
	// grid via the ratio of image widths (equivalently, 2^(from-to)).
	px := tx * fromLevel.TileWidth * toLevel.Width / fromLevel.Width
	py := ty * fromLevel.TileHeight * toLevel.Height / fromLevel.Height
	return px / toLevel.TileWidth, py / toLevel.TileHeight, nil
}
