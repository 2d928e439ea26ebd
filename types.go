package cog

import (
	"encoding/binary"
	"fmt"
)

// Endian is the byte order of a TIFF file, fixed by the two-byte magic at
// the start of the header.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// ByteOrder returns the encoding/binary.ByteOrder matching e.
func (e Endian) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) String() string {
	if e == BigEndian {
		return "MM"
	}
	return "II"
}

// TiffVersion is the version field of a TIFF header. Classic TIFF (42) is
// fully supported; BigTIFF (43) is recognized but rejected, since its
// 8-byte offsets are out of scope here.
type TiffVersion uint16

const (
	VersionClassic TiffVersion = 42
	VersionBig     TiffVersion = 43
)

// Header is the first 8 bytes of a TIFF file.
type Header struct {
	Endian         Endian
	Version        TiffVersion
	FirstIFDOffset uint32
}

// FieldType describes one of the TIFF IFD entry data types: its numeric
// code, a struct-style format character, and the length in bytes of a
// single value.
type FieldType struct {
	Code   uint16
	Format string // struct-style format character, informative only
	Length uint32 // length in bytes of a single value
}

const (
	tByte      uint16 = 1
	tAscii     uint16 = 2
	tShort     uint16 = 3
	tLong      uint16 = 4
	tRational  uint16 = 5
	tSByte     uint16 = 6
	tUndefined uint16 = 7
	tSShort    uint16 = 8
	tSLong     uint16 = 9
	tSRational uint16 = 10
	tFloat     uint16 = 11
	tDouble    uint16 = 12
	tLong8     uint16 = 16
)

// fieldTypes is the canonical TIFF field-type code -> {format, length} table.
var fieldTypes = map[uint16]FieldType{
	tByte:      {Code: tByte, Format: "B", Length: 1},
	tAscii:     {Code: tAscii, Format: "A", Length: 1},
	tShort:     {Code: tShort, Format: "H", Length: 2},
	tLong:      {Code: tLong, Format: "L", Length: 4},
	tRational:  {Code: tRational, Format: "R", Length: 8},
	tSByte:     {Code: tSByte, Format: "b", Length: 1},
	tUndefined: {Code: tUndefined, Format: "U", Length: 1},
	tSShort:    {Code: tSShort, Format: "h", Length: 2},
	tSLong:     {Code: tSLong, Format: "l", Length: 4},
	tSRational: {Code: tSRational, Format: "r", Length: 8},
	tFloat:     {Code: tFloat, Format: "f", Length: 4},
	tDouble:    {Code: tDouble, Format: "d", Length: 8},
	tLong8:     {Code: tLong8, Format: "Q", Length: 8},
}

// LookupFieldType returns the field type descriptor for a TIFF type code.
func LookupFieldType(code uint16) (FieldType, bool) {
	ft, ok := fieldTypes[code]
	return ft, ok
}

// Tag is one parsed IFD entry: a class-level id/name pair (from the tag
// registry), the on-disk type of its value, and the decoded value itself.
//
// Value holds one of []byte, []uint16, []uint32, []uint64, []float64 or
// string, mirroring the closed set of Go types the writer knows how to
// re-serialize (field.go).
type Tag struct {
	Id    uint16
	Name  string
	Type  FieldType
	Count uint32
	Size  uint32
	Value interface{}
}

// IFD is one Image File Directory: a resolution level's tag set plus the
// GeoKeys parsed out of GeoKeyDirectory, if present.
type IFD struct {
	TagCount     uint16
	Tags         map[string]*Tag
	tagOrder     []string // insertion order, ascending tag id as parsed
	NextIFDOffset uint32

	GeoKeys map[string]*GeoKey
}

// OrderedTags returns the IFD's tags sorted by ascending tag id, the order
// required when serializing.
func (ifd *IFD) OrderedTags() []*Tag {
	tags := make([]*Tag, 0, len(ifd.Tags))
	for _, t := range ifd.Tags {
		tags = append(tags, t)
	}
	sortTagsByID(tags)
	return tags
}

// Tag looks up a tag by its registry name.
func (ifd *IFD) Tag(name string) (*Tag, bool) {
	t, ok := ifd.Tags[name]
	return t, ok
}

func (ifd *IFD) setTag(t *Tag) {
	if ifd.Tags == nil {
		ifd.Tags = map[string]*Tag{}
	}
	if _, exists := ifd.Tags[t.Name]; !exists {
		ifd.tagOrder = append(ifd.tagOrder, t.Name)
	}
	ifd.Tags[t.Name] = t
}

func (ifd *IFD) deleteTag(name string) {
	delete(ifd.Tags, name)
}

// uint32Value reads the first element of a tag's numeric value as a uint32,
// used pervasively for scalar tags like ImageWidth/TileWidth.
func (ifd *IFD) uint32Value(name string) (uint32, bool) {
	t, ok := ifd.Tags[name]
	if !ok {
		return 0, false
	}
	switch v := t.Value.(type) {
	case []uint16:
		if len(v) == 0 {
			return 0, false
		}
		return uint32(v[0]), true
	case []uint32:
		if len(v) == 0 {
			return 0, false
		}
		return v[0], true
	case []uint64:
		if len(v) == 0 {
			return 0, false
		}
		return uint32(v[0]), true
	default:
		return 0, false
	}
}

// uint32Slice reads a tag's numeric value as a []uint32, widening as needed.
func (ifd *IFD) uint32Slice(name string) ([]uint32, bool) {
	t, ok := ifd.Tags[name]
	if !ok {
		return nil, false
	}
	switch v := t.Value.(type) {
	case []uint16:
		out := make([]uint32, len(v))
		for i := range v {
			out[i] = uint32(v[i])
		}
		return out, true
	case []uint32:
		return v, true
	case []uint64:
		out := make([]uint32, len(v))
		for i := range v {
			out[i] = uint32(v[i])
		}
		return out, true
	default:
		return nil, false
	}
}

// ImageWidth, ImageHeight, TileWidth and TileHeight are read repeatedly by
// the reader, writer and codecs; these helpers centralize the tag lookups.

func (ifd *IFD) ImageWidth() uint32  { v, _ := ifd.uint32Value("ImageWidth"); return v }
func (ifd *IFD) ImageHeight() uint32 { v, _ := ifd.uint32Value("ImageHeight"); return v }
func (ifd *IFD) TileWidth() uint32   { v, _ := ifd.uint32Value("TileWidth"); return v }
func (ifd *IFD) TileHeight() uint32  { v, _ := ifd.uint32Value("TileHeight"); return v }

// Columns is ceil(ImageWidth/TileWidth), the tiles-per-row count used for
// row-major tile indexing.
func (ifd *IFD) Columns() uint32 {
	w, tw := ifd.ImageWidth(), ifd.TileWidth()
	if tw == 0 {
		return 0
	}
	return (w + tw - 1) / tw
}

// Rows is ceil(ImageHeight/TileHeight).
func (ifd *IFD) Rows() uint32 {
	h, th := ifd.ImageHeight(), ifd.TileHeight()
	if th == 0 {
		return 0
	}
	return (h + th - 1) / th
}

func (ifd *IFD) Compression() uint16 {
	v, _ := ifd.uint32Value("Compression")
	return uint16(v)
}

// Cog is the typed in-memory representation of a Cloud Optimized GeoTIFF:
// a header, the ordered IFD chain (index 0 = full resolution), and the
// byte source it was parsed from. A Cog mutates only during Write.
type Cog struct {
	Header Header
	IFDs   []*IFD

	src Source

	Warnings []Warning
}

// Warning records a recovered non-fatal parse condition: an unknown tag or
// geokey code that was skipped rather than aborting.
type Warning struct {
	Offset  int64
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("offset %d: %s", w.Offset, w.Message)
}

func (c *Cog) warn(offset int64, format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, Warning{Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// SampleDType is the numeric element type of a decoded pixel buffer,
// derived from the (SampleFormat, BitsPerSample) pair.
type SampleDType int

const (
	DTypeUnknown SampleDType = iota
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeFloat32
	DTypeFloat64
)

// ByteWidth returns the size in bytes of one sample of this dtype.
func (d SampleDType) ByteWidth() int {
	switch d {
	case DTypeUint8, DTypeInt8:
		return 1
	case DTypeUint16, DTypeInt16:
		return 2
	case DTypeUint32, DTypeInt32, DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	default:
		return 0
	}
}

const (
	sampleFormatUint   = 1
	sampleFormatInt    = 2
	sampleFormatIEEEFP = 3
)

// SampleDTypeOf implements the SampleFormat/BitsPerSample -> dtype table.
func SampleDTypeOf(sampleFormat, bitsPerSample uint32) (SampleDType, error) {
	switch {
	case sampleFormat == sampleFormatUint && bitsPerSample == 8:
		return DTypeUint8, nil
	case sampleFormat == sampleFormatUint && bitsPerSample == 16:
		return DTypeUint16, nil
	case sampleFormat == sampleFormatUint && bitsPerSample == 32:
		return DTypeUint32, nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 8:
		return DTypeInt8, nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 16:
		return DTypeInt16, nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 32:
		return DTypeInt32, nil
	case sampleFormat == sampleFormatIEEEFP && bitsPerSample == 32:
		return DTypeFloat32, nil
	case sampleFormat == sampleFormatIEEEFP && bitsPerSample == 64:
		return DTypeFloat64, nil
	default:
		return DTypeUnknown, fmt.Errorf("cog: no dtype for sampleformat=%d bitspersample=%d", sampleFormat, bitsPerSample)
	}
}

// PixelBuffer is a decoded tile: a row-major (height, width, samples) grid
// of DType-typed values, stored as raw bytes. No image.Image conversion
// lives in the core; that belongs to callers that need it.
type PixelBuffer struct {
	Width, Height, Samples int
	DType                  SampleDType
	Bytes                  []byte
}

func sortTagsByID(tags []*Tag) {
	// insertion sort: IFDs rarely carry more than a few dozen tags, and we
	// want a stable, allocation-free sort for the common case.
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1].Id > tags[j].Id; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
}
