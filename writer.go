package cog

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriterOption configures Write, mirroring ReaderOption's functional-options
// idiom.
type WriterOption func(*writerConfig) error

type writerConfig struct {
	destCodec   Codec
	tagRegistry *TagRegistry
	codecs      *CodecRegistry
}

// WithDestinationCodec requests a transcode: every tile in cog is decoded
// through the codec registered for its own Compression tag and re-encoded
// through dest before being written out. Without this option Write copies
// tile bytes through unchanged.
func WithDestinationCodec(dest Codec) WriterOption {
	return func(c *writerConfig) error {
		if dest == nil {
			return ErrInvalidOption{"destination codec must not be nil"}
		}
		c.destCodec = dest
		return nil
	}
}

// WithWriterTagRegistry overrides the registry used to look up tag ids when
// merging a destination codec's CreateTags() into an IFD.
func WithWriterTagRegistry(r *TagRegistry) WriterOption {
	return func(c *writerConfig) error {
		c.tagRegistry = r
		return nil
	}
}

// WithSourceCodecRegistry overrides the registry used to decode existing
// tiles during a transcode.
func WithSourceCodecRegistry(r *CodecRegistry) WriterOption {
	return func(c *writerConfig) error {
		c.codecs = r
		return nil
	}
}

// Write serializes cog to w: header, then every IFD's tag entries and
// out-of-line values back to back in IFD order, then the tile payload
// region with tiles written coarsest level first. cog's IFDs are mutated
// in place (TileOffsets/TileByteCounts and, if transcoding, Compression
// and related tags are rewritten to match what is actually written).
func Write(w io.Writer, cog *Cog, opts ...WriterOption) error {
	cfg := writerConfig{
		tagRegistry: NewDefaultTagRegistry(),
		codecs:      NewDefaultCodecRegistry(),
	}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return err
		}
	}
	if len(cog.IFDs) == 0 {
		return InvariantViolationError{Message: "cog has no IFDs"}
	}

	order := cog.Header.Endian.ByteOrder()

	plans := make([]*tilePlan, len(cog.IFDs))
	for i, ifd := range cog.IFDs {
		plan, err := capturePlan(ifd)
		if err != nil {
			return fmt.Errorf("cog: write: IFD %d: %w", i, err)
		}
		plans[i] = plan
	}

	if cfg.destCodec != nil {
		for i, ifd := range cog.IFDs {
			if err := transcodeIFD(cog, ifd, plans[i], cfg.destCodec, cfg.codecs, cfg.tagRegistry); err != nil {
				return fmt.Errorf("cog: write: transcode IFD %d: %w", i, err)
			}
		}
	}

	// TileByteCounts may have changed size during transcode; rewrite it
	// before computing structure sizes so the IFD body reflects final tags.
	tileByteCountsID := findDescriptorByName(cfg.tagRegistry, "TileByteCounts").Id
	tileOffsetsID := findDescriptorByName(cfg.tagRegistry, "TileOffsets").Id
	for i, ifd := range cog.IFDs {
		counts := make([]uint32, len(plans[i].counts))
		copy(counts, plans[i].counts)
		ifd.setTag(&Tag{Id: tileByteCountsID, Name: "TileByteCounts", Type: fieldTypes[tLong], Count: uint32(len(counts)), Value: counts})
	}

	sizes := make([]ifdSize, len(cog.IFDs))
	for i, ifd := range cog.IFDs {
		sizes[i] = structureSize(ifd, order)
	}

	tileRegionStart := uint32(8)
	for _, s := range sizes {
		tileRegionStart += s.bodySize + s.overflowSize
	}

	// Assign final tile offsets in reverse IFD order (coarsest level first),
	// so a client can read a useful low-resolution preview before the rest
	// of the file arrives.
	dataOffset := tileRegionStart
	for i := len(cog.IFDs) - 1; i >= 0; i-- {
		plan := plans[i]
		offsets := make([]uint32, len(plan.counts))
		for t, n := range plan.counts {
			if n > 0 {
				offsets[t] = dataOffset
				dataOffset += n
			}
		}
		plan.newOffsets = offsets
		cog.IFDs[i].setTag(&Tag{Id: tileOffsetsID, Name: "TileOffsets", Type: fieldTypes[tLong], Count: uint32(len(offsets)), Value: offsets})
	}
	totalSize := dataOffset

	// IFD bodies are written in forward chain order; recompute per-IFD file
	// offsets now that their tag sets are final.
	ifdOffsets := make([]uint32, len(cog.IFDs))
	off := uint32(8)
	for i, s := range sizes {
		ifdOffsets[i] = off
		off += s.bodySize + s.overflowSize
	}
	if off != tileRegionStart {
		return InvariantViolationError{Message: "computed IFD region size does not match tile region start"}
	}

	// The first IFD always immediately follows the 8-byte header; any ghost
	// header area or padding the source file carried is dropped on write.
	cog.Header.FirstIFDOffset = ifdOffsets[0]
	if err := writeHeader(w, cog.Header, order); err != nil {
		return err
	}

	for i, ifd := range cog.IFDs {
		var nextOffset uint32
		if i < len(cog.IFDs)-1 {
			nextOffset = ifdOffsets[i+1]
		}
		if err := serializeIFD(w, ifd, order, ifdOffsets[i], nextOffset); err != nil {
			return fmt.Errorf("cog: write: serialize IFD %d: %w", i, err)
		}
	}

	written := off
	for i := len(cog.IFDs) - 1; i >= 0; i-- {
		plan := plans[i]
		for t, n := range plan.counts {
			if n == 0 {
				continue
			}
			if plan.encoded != nil && plan.encoded[t] != nil {
				if uint32(len(plan.encoded[t])) != n {
					return InvariantViolationError{Message: "encoded tile length does not match recorded byte count"}
				}
				if _, err := w.Write(plan.encoded[t]); err != nil {
					return fmt.Errorf("cog: write tile payload: %w", err)
				}
			} else {
				buf := make([]byte, plan.origCounts[t])
				if _, err := cog.src.ReadAt(buf, int64(plan.origOffsets[t])); err != nil {
					return fmt.Errorf("cog: write: copy source tile: %w", err)
				}
				if _, err := w.Write(buf); err != nil {
					return fmt.Errorf("cog: write tile payload: %w", err)
				}
			}
			written += n
		}
	}

	if written != totalSize {
		return InvariantViolationError{Message: fmt.Sprintf("wrote %d bytes, expected %d", written, totalSize)}
	}

	return nil
}

// tilePlan captures, for one IFD, everything Write needs to lay out tile
// payloads: the original (offset, count) pairs as parsed (so source bytes
// can still be located after TileOffsets is overwritten), the final byte
// counts to be written (unchanged, unless transcoding), and, when
// transcoding, the freshly encoded bytes for each tile.
type tilePlan struct {
	origOffsets []uint32
	origCounts  []uint32
	counts      []uint32 // final counts; equals origCounts unless transcoding
	encoded     [][]byte // nil unless transcoding; encoded[i]==nil means "no tile"
	newOffsets  []uint32
}

func capturePlan(ifd *IFD) (*tilePlan, error) {
	offsets, ok := ifd.uint32Slice("TileOffsets")
	if !ok {
		return nil, MissingTagError{Tag: "TileOffsets"}
	}
	counts, ok := ifd.uint32Slice("TileByteCounts")
	if !ok {
		return nil, MissingTagError{Tag: "TileByteCounts"}
	}
	if len(offsets) != len(counts) {
		return nil, InvariantViolationError{Message: "TileOffsets and TileByteCounts have different lengths"}
	}
	final := make([]uint32, len(counts))
	copy(final, counts)
	return &tilePlan{
		origOffsets: offsets,
		origCounts:  counts,
		counts:      final,
	}, nil
}

// transcodeIFD decodes every tile of ifd through its current codec and
// re-encodes through dest. The plan's counts/encoded slices are updated
// in place; the IFD's tags are
// merged with dest.CreateTags() and pruned of dest.DeleteTags().
func transcodeIFD(cog *Cog, ifd *IFD, plan *tilePlan, dest Codec, codecs *CodecRegistry, tagRegistry *TagRegistry) error {
	compression := ifd.Compression()
	factory, ok := codecs.Get(compression)
	if !ok {
		return UnknownCompressionError{Code: compression}
	}
	srcCodec, err := factory(ifd, cog.Header.Endian)
	if err != nil {
		return CodecError{Op: "construct", Err: err}
	}

	plan.encoded = make([][]byte, len(plan.origOffsets))
	for i, n := range plan.origCounts {
		if n == 0 {
			continue
		}
		raw := make([]byte, n)
		if _, err := cog.src.ReadAt(raw, int64(plan.origOffsets[i])); err != nil {
			return fmt.Errorf("read source tile %d: %w", i, err)
		}
		pix, err := srcCodec.Decode(raw, ifd, cog.Header.Endian)
		if err != nil {
			return CodecError{Op: "decode", Err: err}
		}
		out, err := dest.Encode(pix)
		if err != nil {
			return CodecError{Op: "encode", Err: err}
		}
		plan.encoded[i] = out
		plan.counts[i] = uint32(len(out))
	}

	for _, name := range dest.DeleteTags() {
		ifd.deleteTag(name)
	}
	for name, value := range dest.CreateTags() {
		desc := findDescriptorByName(tagRegistry, name)
		if desc.Id == 0 && desc.Name == "" {
			continue
		}
		typeCode, count, _, err := encodeTagValue(value, 0, cog.Header.Endian.ByteOrder())
		if err != nil {
			return fmt.Errorf("encode tag %s: %w", name, err)
		}
		ft := fieldTypes[typeCode]
		ifd.setTag(&Tag{Id: desc.Id, Name: name, Type: ft, Count: count, Value: value})
	}

	return nil
}

func findDescriptorByName(r *TagRegistry, name string) TagDescriptor {
	for _, desc := range r.byId {
		if desc.Name == name {
			return desc
		}
	}
	return TagDescriptor{}
}

// ifdSize is the serialized size of one IFD's fixed-size body (tag count +
// 12-byte entries + next-IFD pointer) and its out-of-line value area.
type ifdSize struct {
	bodySize     uint32
	overflowSize uint32
}

func structureSize(ifd *IFD, order binary.ByteOrder) ifdSize {
	tags := ifd.OrderedTags()
	var overflow uint32
	for _, t := range tags {
		_, _, data, err := encodeTagValue(t.Value, t.Type.Code, order)
		if err != nil {
			continue
		}
		if len(data) > 4 {
			overflow += uint32(len(data))
			if len(data)%2 == 1 {
				overflow++ // word-align the overflow area, as TIFF requires
			}
		}
	}
	return ifdSize{
		bodySize:     2 + 12*uint32(len(tags)) + 4,
		overflowSize: overflow,
	}
}

func writeHeader(w io.Writer, h Header, order binary.ByteOrder) error {
	buf := make([]byte, 8)
	copy(buf[0:2], h.Endian.String())
	order.PutUint16(buf[2:4], uint16(h.Version))
	order.PutUint32(buf[4:8], h.FirstIFDOffset)
	_, err := w.Write(buf)
	return err
}

// serializeIFD writes one IFD's tag count, its 12-byte entries in ascending
// tag-id order, the next-IFD pointer, and any out-of-line values
// immediately following. ifdOffset is this IFD's own
// file offset, used to compute out-of-line value offsets relative to the
// start of its overflow area.
func serializeIFD(w io.Writer, ifd *IFD, order binary.ByteOrder, ifdOffset, nextIFDOffset uint32) error {
	tags := ifd.OrderedTags()

	bodySize := 2 + 12*uint32(len(tags)) + 4
	overflowStart := ifdOffset + bodySize

	entries := make([]byte, 0, 12*len(tags))
	overflow := make([]byte, 0, 64)

	for _, t := range tags {
		typeCode, count, data, err := encodeTagValue(t.Value, t.Type.Code, order)
		if err != nil {
			return fmt.Errorf("tag %s: %w", t.Name, err)
		}

		entry := make([]byte, 12)
		order.PutUint16(entry[0:2], t.Id)
		order.PutUint16(entry[2:4], typeCode)
		order.PutUint32(entry[4:8], count)

		if len(data) <= 4 {
			copy(entry[8:12], data)
		} else {
			valueOffset := overflowStart + uint32(len(overflow))
			order.PutUint32(entry[8:12], valueOffset)
			overflow = append(overflow, data...)
			if len(data)%2 == 1 {
				overflow = append(overflow, 0)
			}
		}
		entries = append(entries, entry...)
	}

	count16 := make([]byte, 2)
	order.PutUint16(count16, uint16(len(tags)))
	if _, err := w.Write(count16); err != nil {
		return err
	}
	if _, err := w.Write(entries); err != nil {
		return err
	}
	next4 := make([]byte, 4)
	order.PutUint32(next4, nextIFDOffset)
	if _, err := w.Write(next4); err != nil {
		return err
	}
	if _, err := w.Write(overflow); err != nil {
		return err
	}
	return nil
}
