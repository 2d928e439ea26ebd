package cog

import (
	"bytes"
	"compress/lzw"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/klauspost/compress/flate"
)

// Compression codes handled by the default codec registry.
const (
	CompressionNone    uint16 = 1
	CompressionLZW     uint16 = 5
	CompressionJPEG    uint16 = 7
	CompressionDeflate uint16 = 8
)

// PhotometricInterpretation values referenced by the JPEG codec.
const (
	PhotometricMinIsWhite = 0
	PhotometricMinIsBlack = 1
	PhotometricRGB        = 2
	PhotometricPalette    = 3
	PhotometricMask       = 4
	PhotometricCMYK       = 5
	PhotometricYCbCr      = 6
)

// Predictor values.
const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

// Codec is the pluggable per-tile compression dispatch interface:
// construct a codec instance from an IFD's tags,
// decode/encode tile payloads, and report the tags a transcode should
// merge in or remove.
type Codec interface {
	// Decode decompresses raw tile bytes into a pixel buffer.
	Decode(data []byte, ifd *IFD, endian Endian) (*PixelBuffer, error)
	// Encode compresses a pixel buffer into tile bytes.
	Encode(pix *PixelBuffer) ([]byte, error)
	// CreateTags returns the tag-name -> value pairs a transcode to this
	// codec must merge into the destination IFD (overwriting conflicts).
	CreateTags() map[string]interface{}
	// DeleteTags returns the tag names a transcode to this codec must
	// remove from the destination IFD (e.g. Predictor for JPEG).
	DeleteTags() []string
}

// --- Identity (Compression=1) -----------------------------------------

// identityCodec treats tile payloads as already-decoded raw bytes; it
// exists so uncompressed COGs can flow through the same Decode/Encode
// interface as the compressed codecs.
type identityCodec struct {
	width, height, samples int
	dtype                  SampleDType
}

// NewIdentityCodec is a CodecFactory for Compression=1.
func NewIdentityCodec(ifd *IFD, endian Endian) (Codec, error) {
	samples, _ := ifd.uint32Value("SamplesPerPixel")
	if samples == 0 {
		samples = 1
	}
	dtype, err := sampleDTypeFromIFD(ifd)
	if err != nil {
		return nil, err
	}
	return &identityCodec{
		width:   int(ifd.TileWidth()),
		height:  int(ifd.TileHeight()),
		samples: int(samples),
		dtype:   dtype,
	}, nil
}

func (c *identityCodec) Decode(data []byte, ifd *IFD, endian Endian) (*PixelBuffer, error) {
	return &PixelBuffer{Width: c.width, Height: c.height, Samples: c.samples, DType: c.dtype, Bytes: data}, nil
}

func (c *identityCodec) Encode(pix *PixelBuffer) ([]byte, error) {
	return pix.Bytes, nil
}

func (c *identityCodec) CreateTags() map[string]interface{} {
	return map[string]interface{}{"Compression": []uint16{CompressionNone}}
}

func (c *identityCodec) DeleteTags() []string {
	return []string{"Predictor", "JPEGTables", "ChromaSubSampling"}
}

// NewIdentityEncoder builds an identity Codec for use as a Write
// destination codec, where there is no existing IFD to read tile geometry
// from.
func NewIdentityEncoder() Codec {
	return &identityCodec{}
}

// --- LZW (Compression=5) ------------------------------------------------

// lzwCodec wraps the standard library's MSB-first LZW implementation, the
// variant TIFF's baseline LZW compression uses. This codec is offered
// beyond the core Identity/JPEG/Deflate set: no ecosystem Go package
// implements TIFF-variant LZW, and compress/lzw already matches it
// bit-for-bit.
type lzwCodec struct {
	width, height, samples int
	dtype                  SampleDType
	predictor              uint16
}

// NewLZWCodec is a CodecFactory for Compression=5.
func NewLZWCodec(ifd *IFD, endian Endian) (Codec, error) {
	samples, _ := ifd.uint32Value("SamplesPerPixel")
	if samples == 0 {
		samples = 1
	}
	dtype, err := sampleDTypeFromIFD(ifd)
	if err != nil {
		return nil, err
	}
	predictor, _ := ifd.uint32Value("Predictor")
	if predictor == 0 {
		predictor = PredictorNone
	}
	return &lzwCodec{
		width:     int(ifd.TileWidth()),
		height:    int(ifd.TileHeight()),
		samples:   int(samples),
		dtype:     dtype,
		predictor: uint16(predictor),
	}, nil
}

func (c *lzwCodec) Decode(data []byte, ifd *IFD, endian Endian) (*PixelBuffer, error) {
	r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("lzw decode: %w", err)
	}
	out := buf.Bytes()
	if c.predictor == PredictorHorizontal {
		if err := unpredictHorizontal(out, c.width, c.height, c.samples, c.dtype); err != nil {
			return nil, err
		}
	}
	return &PixelBuffer{Width: c.width, Height: c.height, Samples: c.samples, DType: c.dtype, Bytes: out}, nil
}

func (c *lzwCodec) Encode(pix *PixelBuffer) ([]byte, error) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	if _, err := w.Write(pix.Bytes); err != nil {
		w.Close()
		return nil, fmt.Errorf("lzw encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzw encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *lzwCodec) CreateTags() map[string]interface{} {
	return map[string]interface{}{"Compression": []uint16{CompressionLZW}}
}

func (c *lzwCodec) DeleteTags() []string {
	return []string{"JPEGTables", "ChromaSubSampling"}
}

// NewLZWEncoder builds an LZW Codec for use as a Write destination codec.
func NewLZWEncoder() Codec {
	return &lzwCodec{predictor: PredictorNone}
}

// --- Deflate (Compression=8) --------------------------------------------

// deflateCodec implements raw inflate/deflate plus the TIFF horizontal
// predictor, using github.com/klauspost/compress/flate rather than the
// standard library's
// compress/flate: same API shape, faster in practice, and already a direct
// dependency elsewhere in the retrieved example pack.
type deflateCodec struct {
	width, height, samples int
	dtype                  SampleDType
	predictor              uint16
}

// NewDeflateCodec is a CodecFactory for Compression=8.
func NewDeflateCodec(ifd *IFD, endian Endian) (Codec, error) {
	dtype, err := sampleDTypeFromIFD(ifd)
	if err != nil {
		return nil, err
	}
	samples, _ := ifd.uint32Value("SamplesPerPixel")
	if samples == 0 {
		samples = 1
	}
	predictor, _ := ifd.uint32Value("Predictor")
	if predictor == 0 {
		predictor = PredictorNone
	}
	return &deflateCodec{
		width:     int(ifd.TileWidth()),
		height:    int(ifd.TileHeight()),
		samples:   int(samples),
		dtype:     dtype,
		predictor: uint16(predictor),
	}, nil
}

func (c *deflateCodec) Decode(data []byte, ifd *IFD, endian Endian) (*PixelBuffer, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("deflate decode: %w", err)
	}
	out := buf.Bytes()

	if c.predictor == PredictorHorizontal {
		if err := unpredictHorizontal(out, c.width, c.height, c.samples, c.dtype); err != nil {
			return nil, err
		}
	}

	return &PixelBuffer{Width: c.width, Height: c.height, Samples: c.samples, DType: c.dtype, Bytes: out}, nil
}

func (c *deflateCodec) Encode(pix *PixelBuffer) ([]byte, error) {
	data := pix.Bytes
	if c.predictor == PredictorHorizontal {
		data = append([]byte(nil), data...)
		if err := predictHorizontal(data, pix.Width, pix.Height, pix.Samples, pix.DType); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate encode: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("deflate encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *deflateCodec) CreateTags() map[string]interface{} {
	tags := map[string]interface{}{
		"Compression": []uint16{CompressionDeflate},
		"Predictor":   []uint16{c.predictor},
	}
	if c.samples == 3 || c.samples == 4 {
		tags["PhotometricInterpretation"] = []uint16{PhotometricRGB}
	}
	return tags
}

func (c *deflateCodec) DeleteTags() []string {
	return []string{"JPEGTables", "ChromaSubSampling"}
}

// NewDeflateEncoder builds a Deflate Codec for use as a Write destination
// codec. withPredictor enables the horizontal predictor on Encode, mirroring
// the TIFF Predictor=2 convention most Deflate-compressed GeoTIFFs use for
// integer samples.
func NewDeflateEncoder(withPredictor bool) Codec {
	predictor := uint16(PredictorNone)
	if withPredictor {
		predictor = PredictorHorizontal
	}
	return &deflateCodec{predictor: predictor}
}

// unpredictHorizontal reverses a horizontal delta filter in place: each
// sample (after the first per row per band) is the difference from its
// left neighbor (TIFF Predictor=2). No Go library implements this
// TIFF-specific filter, so it is hand-written directly against the
// reshaped byte buffer.
func unpredictHorizontal(buf []byte, width, height, samples int, dtype SampleDType) error {
	return deltaFilter(buf, width, height, samples, dtype, false)
}

// predictHorizontal applies the forward horizontal delta filter.
func predictHorizontal(buf []byte, width, height, samples int, dtype SampleDType) error {
	return deltaFilter(buf, width, height, samples, dtype, true)
}

func deltaFilter(buf []byte, width, height, samples int, dtype SampleDType, forward bool) error {
	bw := dtype.ByteWidth()
	if bw == 0 {
		return fmt.Errorf("cog: predictor unsupported for dtype %v", dtype)
	}
	rowStride := width * samples * bw
	if len(buf) < rowStride*height {
		return fmt.Errorf("cog: predictor buffer too small: have %d want %d", len(buf), rowStride*height)
	}
	for row := 0; row < height; row++ {
		rowBuf := buf[row*rowStride : (row+1)*rowStride]
		if bw == 1 {
			deltaFilterBytes(rowBuf, samples, forward)
			continue
		}
		deltaFilterWide(rowBuf, samples, bw, forward)
	}
	return nil
}

func deltaFilterBytes(row []byte, samples int, forward bool) {
	if forward {
		for i := len(row) - 1; i >= samples; i-- {
			row[i] -= row[i-samples]
		}
	} else {
		for i := samples; i < len(row); i++ {
			row[i] += row[i-samples]
		}
	}
}

// deltaFilterWide handles 2/4/8-byte samples by operating on little-endian
// integer views; TIFF predictor deltas are always computed on the decoded
// integer sample values, not raw bytes, once the width exceeds one byte.
func deltaFilterWide(row []byte, samples, bw int, forward bool) {
	n := len(row) / bw
	stride := samples
	get := func(i int) uint64 {
		var v uint64
		for b := 0; b < bw; b++ {
			v |= uint64(row[i*bw+b]) << (8 * b)
		}
		return v
	}
	put := func(i int, v uint64) {
		for b := 0; b < bw; b++ {
			row[i*bw+b] = byte(v >> (8 * b))
		}
	}
	if forward {
		for i := n - 1; i >= stride; i-- {
			put(i, get(i)-get(i-stride))
		}
	} else {
		for i := stride; i < n; i++ {
			put(i, get(i)+get(i-stride))
		}
	}
}

func sampleDTypeFromIFD(ifd *IFD) (SampleDType, error) {
	sf, ok := ifd.uint32Value("SampleFormat")
	if !ok {
		sf = 1 // unsigned integer is the TIFF default when SampleFormat is absent
	}
	bps, ok := ifd.uint32Value("BitsPerSample")
	if !ok {
		bps = 8
	}
	return SampleDTypeOf(sf, bps)
}

// --- JPEG (Compression=7) -----------------------------------------------

// jpegCodec decodes/encodes through the standard library's image/jpeg
// package: no third-party Go JPEG package supports decoding with an
// externally supplied abbreviated table set (JPEGTables), which new-style
// JPEG-in-TIFF requires, so the codec reassembles a standalone JPEG stream
// by splicing the shared tables in front of each tile before calling
// image/jpeg.Decode.
type jpegCodec struct {
	jpegTables []byte // DQT/DHT marker segments, without SOI/EOI
	photometric uint16
	subsampling []uint16
	samples     int
}

const (
	jpegSOI  = 0xD8
	jpegEOI  = 0xD9
	jpegSOS  = 0xDA
	jpegMark = 0xFF
)

// NewJPEGCodec is a CodecFactory for Compression=7.
func NewJPEGCodec(ifd *IFD, endian Endian) (Codec, error) {
	c := &jpegCodec{}
	if t, ok := ifd.Tags["JPEGTables"]; ok {
		b, _ := t.Value.(string)
		// JPEGTables is registered as UNDEFINED/BYTE on disk; decodeTagValue
		// for []byte-shaped tags returns []byte, but our string fallback
		// covers ASCII-typed occurrences some encoders mistakenly emit.
		if bs, ok2 := t.Value.([]byte); ok2 {
			c.jpegTables = stripSOIEOI(bs)
		} else if b != "" {
			c.jpegTables = stripSOIEOI([]byte(b))
		}
	}
	photometric, _ := ifd.uint32Value("PhotometricInterpretation")
	c.photometric = uint16(photometric)
	if sub, ok := ifd.Tags["ChromaSubSampling"]; ok {
		c.subsampling, _ = sub.Value.([]uint16)
	}
	samples, _ := ifd.uint32Value("SamplesPerPixel")
	if samples == 0 {
		samples = 3
	}
	c.samples = int(samples)
	return c, nil
}

// stripSOIEOI removes a leading SOI (FFD8) and trailing EOI (FFD9) marker,
// leaving just the DQT/DHT segments, if present.
func stripSOIEOI(b []byte) []byte {
	if len(b) >= 2 && b[0] == jpegMark && b[1] == jpegSOI {
		b = b[2:]
	}
	if len(b) >= 2 && b[len(b)-2] == jpegMark && b[len(b)-1] == jpegEOI {
		b = b[:len(b)-2]
	}
	return b
}

func (c *jpegCodec) Decode(data []byte, ifd *IFD, endian Endian) (*PixelBuffer, error) {
	var stream bytes.Buffer
	stream.Write([]byte{jpegMark, jpegSOI})
	stream.Write(c.jpegTables)
	// Tiles carry their own SOI; drop it so the stream has exactly one.
	if len(data) >= 2 && data[0] == jpegMark && data[1] == jpegSOI {
		data = data[2:]
	}
	stream.Write(data)
	if len(data) < 2 || data[len(data)-2] != jpegMark || data[len(data)-1] != jpegEOI {
		stream.Write([]byte{jpegMark, jpegEOI})
	}

	img, err := jpeg.Decode(&stream)
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}

	return imageToPixelBuffer(img), nil
}

func (c *jpegCodec) Encode(pix *PixelBuffer) ([]byte, error) {
	img, err := pixelBufferToImage(pix)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// CreateTags synthesizes the JPEG-related tags: Compression=7, the
// photometric interpretation, chroma subsampling if
// known, and the YCbCr ReferenceBlackWhite default when the output
// colorspace is YCbCr.
func (c *jpegCodec) CreateTags() map[string]interface{} {
	tags := map[string]interface{}{
		"Compression":               []uint16{CompressionJPEG},
		"PhotometricInterpretation": []uint16{PhotometricYCbCr},
	}
	if len(c.subsampling) > 0 {
		tags["ChromaSubSampling"] = c.subsampling
	}
	tags["ReferenceBlackWhite"] = []uint32{0, 255, 128, 255, 128, 255}
	return tags
}

func (c *jpegCodec) DeleteTags() []string {
	return []string{"Predictor"}
}

// NewJPEGEncoder builds a JPEG Codec for use as a Write destination codec.
// Each tile is encoded as a complete, independent JPEG stream (quantization
// and Huffman tables included); unlike Decode, Encode does not produce a
// shared JPEGTables tag, so transcoding to JPEG trades the abbreviated-
// stream space savings for simplicity.
func NewJPEGEncoder() Codec {
	return &jpegCodec{}
}

// imageToPixelBuffer converts a decoded image.Image into a row-major
// uint8 PixelBuffer. image/jpeg always decodes to YCbCr or Gray/CMYK;
// callers that need RGB can reinterpret via the PhotometricInterpretation
// tag, as color-space conversion is outside the core's scope.
func imageToPixelBuffer(img image.Image) *PixelBuffer {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		return &PixelBuffer{Width: width, Height: height, Samples: 1, DType: DTypeUint8, Bytes: append([]byte(nil), src.Pix...)}
	case *image.YCbCr:
		samples := 3
		out := make([]byte, width*height*samples)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yy, cb, cr := src.YCbCrAt(b.Min.X+x, b.Min.Y+y).Y, src.YCbCrAt(b.Min.X+x, b.Min.Y+y).Cb, src.YCbCrAt(b.Min.X+x, b.Min.Y+y).Cr
				i := (y*width + x) * samples
				out[i], out[i+1], out[i+2] = yy, cb, cr
			}
		}
		return &PixelBuffer{Width: width, Height: height, Samples: samples, DType: DTypeUint8, Bytes: out}
	case *image.CMYK:
		out := make([]byte, width*height*4)
		copy(out, src.Pix)
		return &PixelBuffer{Width: width, Height: height, Samples: 4, DType: DTypeUint8, Bytes: out}
	default:
		out := make([]byte, width*height*3)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				i := (y*width + x) * 3
				out[i], out[i+1], out[i+2] = byte(r>>8), byte(g>>8), byte(bl>>8)
			}
		}
		return &PixelBuffer{Width: width, Height: height, Samples: 3, DType: DTypeUint8, Bytes: out}
	}
}

// pixelBufferToImage builds an image.Image suitable for jpeg.Encode out of
// a uint8 PixelBuffer, assuming RGB (3 samples) or grayscale (1 sample).
func pixelBufferToImage(pix *PixelBuffer) (image.Image, error) {
	if pix.DType != DTypeUint8 {
		return nil, fmt.Errorf("jpeg encode only supports uint8 samples, got %v", pix.DType)
	}
	switch pix.Samples {
	case 1:
		img := image.NewGray(image.Rect(0, 0, pix.Width, pix.Height))
		copy(img.Pix, pix.Bytes)
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, pix.Width, pix.Height))
		for i := 0; i < pix.Width*pix.Height; i++ {
			img.Pix[i*4] = pix.Bytes[i*3]
			img.Pix[i*4+1] = pix.Bytes[i*3+1]
			img.Pix[i*4+2] = pix.Bytes[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("jpeg encode only supports 1 or 3 samples, got %d", pix.Samples)
	}
}
