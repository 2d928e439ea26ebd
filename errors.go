package cog

import "fmt"

// InvalidMagicError is returned when the first two header bytes are
// neither "II" nor "MM".
type InvalidMagicError struct {
	Offset int64
	Got    []byte
}

func (e InvalidMagicError) Error() string {
	return fmt.Sprintf("cog: invalid byte-order magic %q at offset %d", e.Got, e.Offset)
}

// UnsupportedVersionError is returned when the header's version field is
// not 42 (classic TIFF); BigTIFF (43) is rejected with it as well.
type UnsupportedVersionError struct {
	Offset  int64
	Version uint16
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("cog: unsupported TIFF version %d at offset %d", e.Version, e.Offset)
}

// TruncatedError is returned when a read would extend past the end of the
// supplied buffer or source.
type TruncatedError struct {
	Offset, Want int64
}

func (e TruncatedError) Error() string {
	return fmt.Sprintf("cog: truncated read at offset %d: need %d more bytes", e.Offset, e.Want)
}

// UnknownCompressionError is returned when decoding is requested for a
// Compression code that has no registered codec.
type UnknownCompressionError struct {
	Code uint16
}

func (e UnknownCompressionError) Error() string {
	return fmt.Sprintf("cog: no codec registered for compression %d", e.Code)
}

// CodecError wraps a failure raised by a codec's Decode or Encode.
type CodecError struct {
	Op  string
	Err error
}

func (e CodecError) Error() string {
	return fmt.Sprintf("cog: codec %s: %v", e.Op, e.Err)
}

func (e CodecError) Unwrap() error {
	return e.Err
}

// InvariantViolationError indicates a bug in the writer's size/offset
// bookkeeping; it should never be triggered by well-formed input.
type InvariantViolationError struct {
	Message string
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("cog: invariant violation: %s", e.Message)
}

// MissingTagError is returned when a tag required for an operation
// (typically transcoding) is absent from an IFD.
type MissingTagError struct {
	Tag string
}

func (e MissingTagError) Error() string {
	return fmt.Sprintf("cog: missing required tag %q", e.Tag)
}
