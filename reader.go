package cog

import (
	"encoding/binary"
	"fmt"
)

// defaultPrefetch is the number of bytes Open reads up front, large enough
// in practice to contain the header and the whole IFD chain with its
// out-of-line tag values for a typical COG.
const defaultPrefetch = 65536

// ReaderOption configures Open using the functional-options idiom.
type ReaderOption func(*readerConfig) error

type readerConfig struct {
	prefetch    int
	tagRegistry *TagRegistry
	geoRegistry *GeoKeyRegistry
}

// WithPrefetch overrides the number of bytes read up front by Open.
func WithPrefetch(n int) ReaderOption {
	return func(c *readerConfig) error {
		if n <= 0 {
			return ErrInvalidOption{"prefetch size must be >=1"}
		}
		c.prefetch = n
		return nil
	}
}

// WithTagRegistry overrides the tag registry used to recognize IFD entries.
func WithTagRegistry(r *TagRegistry) ReaderOption {
	return func(c *readerConfig) error {
		c.tagRegistry = r
		return nil
	}
}

// WithGeoKeyRegistry overrides the registry used to interpret GeoKeys.
func WithGeoKeyRegistry(r *GeoKeyRegistry) ReaderOption {
	return func(c *readerConfig) error {
		c.geoRegistry = r
		return nil
	}
}

// ErrInvalidOption is returned by Open or Write when a Reader/WriterOption
// was built with an out-of-range argument.
type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// Open parses a TIFF header and IFD chain out of src into a typed Cog.
// src only needs to serve the header and the IFDs' own bytes up front;
// tile payloads are fetched lazily by ReadTile.
func Open(src Source, opts ...ReaderOption) (*Cog, error) {
	cfg := readerConfig{
		prefetch:    defaultPrefetch,
		tagRegistry: NewDefaultTagRegistry(),
		geoRegistry: NewDefaultGeoKeyRegistry(),
	}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	size, err := src.Size()
	if err != nil {
		return nil, fmt.Errorf("cog: stat source: %w", err)
	}
	n := int64(cfg.prefetch)
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	if _, err := src.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("cog: read header window: %w", err)
	}

	p := &parser{
		src:         src,
		buf:         buf,
		bufOffset:   0,
		tagRegistry: cfg.tagRegistry,
		geoRegistry: cfg.geoRegistry,
	}

	header, err := p.readHeader()
	if err != nil {
		return nil, err
	}

	cog := &Cog{Header: header, src: src}

	offset := header.FirstIFDOffset
	seen := map[uint32]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, InvariantViolationError{Message: fmt.Sprintf("IFD chain loops back to offset %d", offset)}
		}
		seen[offset] = true

		ifd, err := p.readIFD(cog, offset)
		if err != nil {
			return nil, fmt.Errorf("cog: read IFD at offset %d: %w", offset, err)
		}
		cog.IFDs = append(cog.IFDs, ifd)
		offset = ifd.NextIFDOffset
	}

	return cog, nil
}

// parser holds the state threaded through one Open call: the prefetch
// buffer and the registries used to recognize tags and geokeys.
type parser struct {
	src       Source
	buf       []byte
	bufOffset int64

	tagRegistry *TagRegistry
	geoRegistry *GeoKeyRegistry
}

func (p *parser) order(endian Endian) binary.ByteOrder {
	return endian.ByteOrder()
}

// ensure returns bytes [off, off+n): a slice of p.buf when the prefetch
// window covers them, otherwise a fresh read of exactly those n bytes from
// the source. p.buf itself is never replaced or enlarged.
func (p *parser) ensure(off int64, n int) ([]byte, error) {
	if off >= p.bufOffset && off+int64(n) <= p.bufOffset+int64(len(p.buf)) {
		start := off - p.bufOffset
		return p.buf[start : start+int64(n)], nil
	}
	fresh := make([]byte, n)
	read, err := p.src.ReadAt(fresh, off)
	if err != nil && read < n {
		return nil, TruncatedError{Offset: off, Want: int64(n - read)}
	}
	return fresh, nil
}

func (p *parser) readHeader() (Header, error) {
	b, err := p.ensure(0, 8)
	if err != nil {
		return Header{}, err
	}

	var endian Endian
	switch string(b[0:2]) {
	case "II":
		endian = LittleEndian
	case "MM":
		endian = BigEndian
	default:
		return Header{}, InvalidMagicError{Offset: 0, Got: append([]byte(nil), b[0:2]...)}
	}
	order := p.order(endian)

	// BigTIFF (43) is a recognized version number but is rejected outright:
	// its 8-byte IFD entries and offsets are a different on-disk layout that
	// nothing downstream (readIFD's 12-byte entry stride, uint32 offsets)
	// understands. Accepting it here would silently parse a BigTIFF file as
	// if it were classic TIFF and produce garbage tags.
	version := TiffVersion(order.Uint16(b[2:4]))
	if version != VersionClassic {
		return Header{}, UnsupportedVersionError{Offset: 2, Version: uint16(version)}
	}

	return Header{
		Endian:         endian,
		Version:        version,
		FirstIFDOffset: order.Uint32(b[4:8]),
	}, nil
}

// readIFD parses one IFD starting at byte offset off.
func (p *parser) readIFD(cog *Cog, off uint32) (*IFD, error) {
	order := p.order(cog.Header.Endian)

	countBytes, err := p.ensure(int64(off), 2)
	if err != nil {
		return nil, err
	}
	tagCount := order.Uint16(countBytes)

	ifd := &IFD{TagCount: tagCount, Tags: map[string]*Tag{}}

	entriesOffset := int64(off) + 2
	for i := 0; i < int(tagCount); i++ {
		entry, err := p.ensure(entriesOffset+int64(i)*12, 12)
		if err != nil {
			return nil, err
		}
		tag, warning, err := p.readTagEntry(entry, entriesOffset+int64(i)*12, order, cog.Header.Version)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			cog.warn(entriesOffset+int64(i)*12, "%s", warning)
			continue
		}
		ifd.setTag(tag)
	}

	nextOff, err := p.ensure(entriesOffset+int64(tagCount)*12, 4)
	if err != nil {
		return nil, err
	}
	ifd.NextIFDOffset = order.Uint32(nextOff)

	if gkd, ok := ifd.Tags["GeoKeyDirectory"]; ok {
		raw, _ := gkd.Value.([]uint16)
		ifd.GeoKeys = parseGeoKeyDirectory(raw, ifd.Tags, p.geoRegistry, p.tagRegistry, func(format string, args ...interface{}) {
			cog.warn(int64(off), format, args...)
		})
	}

	return ifd, nil
}

// readTagEntry decodes one 12-byte IFD entry. An unrecognized tag code is
// non-fatal: it is returned via the warning string and the caller skips it.
func (p *parser) readTagEntry(entry []byte, entryOffset int64, order binary.ByteOrder, version TiffVersion) (*Tag, string, error) {
	code := order.Uint16(entry[0:2])
	desc, ok := p.tagRegistry.Get(code)
	if !ok {
		return nil, fmt.Sprintf("unknown tag code %d, skipping", code), nil
	}

	typeCode := order.Uint16(entry[2:4])
	ft, ok := LookupFieldType(typeCode)
	if !ok {
		return nil, fmt.Sprintf("tag %s has unknown field type code %d, skipping", desc.Name, typeCode), nil
	}

	count := order.Uint32(entry[4:8])
	size := count * ft.Length

	var raw []byte
	if size <= 4 {
		raw = entry[8 : 8+size]
	} else {
		valueOffset := order.Uint32(entry[8:12])
		var err error
		raw, err = p.ensure(int64(valueOffset), int(size))
		if err != nil {
			return nil, "", fmt.Errorf("cog: tag %s value at offset %d: %w", desc.Name, valueOffset, err)
		}
	}

	value, err := decodeTagValue(raw, ft, count, order)
	if err != nil {
		return nil, "", fmt.Errorf("cog: decode tag %s: %w", desc.Name, err)
	}

	return &Tag{
		Id:    desc.Id,
		Name:  desc.Name,
		Type:  ft,
		Count: count,
		Size:  size,
		Value: value,
	}, "", nil
}

// ReadTile seeks to TileOffsets[idx], reads TileByteCounts[idx] bytes, and
// optionally decodes through the codec registered for this IFD's
// Compression tag.
//
// idx = y*columns + x, where columns = ceil(ImageWidth/TileWidth).
func (c *Cog) ReadTile(level, x, y int, decode bool, codecs *CodecRegistry) ([]byte, *PixelBuffer, error) {
	if level < 0 || level >= len(c.IFDs) {
		return nil, nil, fmt.Errorf("cog: level %d out of range [0,%d)", level, len(c.IFDs))
	}
	ifd := c.IFDs[level]

	columns := ifd.Columns()
	if columns == 0 {
		return nil, nil, MissingTagError{Tag: "TileWidth"}
	}
	idx := uint32(y)*columns + uint32(x)

	offsets, ok := ifd.uint32Slice("TileOffsets")
	if !ok {
		return nil, nil, MissingTagError{Tag: "TileOffsets"}
	}
	counts, ok := ifd.uint32Slice("TileByteCounts")
	if !ok {
		return nil, nil, MissingTagError{Tag: "TileByteCounts"}
	}
	if int(idx) >= len(offsets) || int(idx) >= len(counts) {
		return nil, nil, fmt.Errorf("cog: tile (%d,%d) index %d out of range", x, y, idx)
	}

	raw := make([]byte, counts[idx])
	if counts[idx] > 0 {
		if _, err := c.src.ReadAt(raw, int64(offsets[idx])); err != nil {
			return nil, nil, fmt.Errorf("cog: read tile (%d,%d) at offset %d: %w", x, y, offsets[idx], err)
		}
	}

	if !decode {
		return raw, nil, nil
	}

	compression := ifd.Compression()
	factory, ok := codecs.Get(compression)
	if !ok {
		return nil, nil, UnknownCompressionError{Code: compression}
	}
	codec, err := factory(ifd, c.Header.Endian)
	if err != nil {
		return nil, nil, CodecError{Op: "construct", Err: err}
	}
	pix, err := codec.Decode(raw, ifd, c.Header.Endian)
	if err != nil {
		return nil, nil, CodecError{Op: "decode", Err: err}
	}
	return raw, pix, nil
}
