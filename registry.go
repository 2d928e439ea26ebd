package cog

// TagDescriptor is a registered tag's identity: its numeric code and
// human-readable name. The on-disk type, count and value of any particular
// occurrence come from the
// parsed IFD entry itself, not from the descriptor.
type TagDescriptor struct {
	Id   uint16
	Name string
}

// TagRegistry maps numeric TIFF tag codes to their descriptors. Baseline
// TIFF tags and GeoTIFF extension tags are registered by name group
// (RegisterBaseline / RegisterGeoTIFF); callers may Add further private
// tags. Registries are read-only after construction and are threaded
// explicitly through Open/Write calls rather than held as package-level
// singletons.
type TagRegistry struct {
	byId map[uint16]TagDescriptor
}

// NewTagRegistry returns an empty registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{byId: map[uint16]TagDescriptor{}}
}

// NewDefaultTagRegistry returns a registry with the baseline and GeoTIFF
// extension tag groups already registered.
func NewDefaultTagRegistry() *TagRegistry {
	r := NewTagRegistry()
	r.RegisterBaseline()
	r.RegisterGeoTIFF()
	return r
}

// Add registers one or more tag descriptors, keyed by id.
func (r *TagRegistry) Add(tags ...TagDescriptor) {
	for _, t := range tags {
		r.byId[t.Id] = t
	}
}

// Get returns the descriptor for tag code, if registered.
func (r *TagRegistry) Get(code uint16) (TagDescriptor, bool) {
	t, ok := r.byId[code]
	return t, ok
}

// RegisterBaseline adds the baseline TIFF tags.
func (r *TagRegistry) RegisterBaseline() {
	r.Add(
		TagDescriptor{254, "NewSubfileType"},
		TagDescriptor{256, "ImageWidth"},
		TagDescriptor{257, "ImageHeight"},
		TagDescriptor{258, "BitsPerSample"},
		TagDescriptor{259, "Compression"},
		TagDescriptor{262, "PhotometricInterpretation"},
		TagDescriptor{277, "SamplesPerPixel"},
		TagDescriptor{282, "XResolution"},
		TagDescriptor{283, "YResolution"},
		TagDescriptor{284, "PlanarConfiguration"},
		TagDescriptor{296, "ResolutionUnit"},
		TagDescriptor{322, "TileWidth"},
		TagDescriptor{323, "TileHeight"},
		TagDescriptor{324, "TileOffsets"},
		TagDescriptor{325, "TileByteCounts"},
		TagDescriptor{338, "ExtraSamples"},
		TagDescriptor{339, "SampleFormat"},
		TagDescriptor{347, "JPEGTables"},
		TagDescriptor{317, "Predictor"},
		TagDescriptor{530, "ChromaSubSampling"},
		TagDescriptor{532, "ReferenceBlackWhite"},
	)
}

// RegisterGeoTIFF adds the GeoTIFF extension tags.
func (r *TagRegistry) RegisterGeoTIFF() {
	r.Add(
		TagDescriptor{33550, "ModelPixelScale"},
		TagDescriptor{33922, "ModelTiePoint"},
		TagDescriptor{34735, "GeoKeyDirectory"},
		TagDescriptor{34736, "GeoDoubleParams"},
		TagDescriptor{34737, "GeoAsciiParams"},
	)
}

// CodecFactory constructs a Codec from an IFD's tags and the file's byte
// order.
type CodecFactory func(ifd *IFD, endian Endian) (Codec, error)

// CodecRegistry maps a TIFF Compression code to the factory that builds a
// codec for it.
type CodecRegistry struct {
	byCode map[uint16]CodecFactory
}

// NewCodecRegistry returns an empty codec registry.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{byCode: map[uint16]CodecFactory{}}
}

// NewDefaultCodecRegistry returns a registry with the codecs implemented in
// codecs.go pre-registered: Identity(1), LZW(5), JPEG(7), Deflate(8).
func NewDefaultCodecRegistry() *CodecRegistry {
	r := NewCodecRegistry()
	r.Add(CompressionNone, NewIdentityCodec)
	r.Add(CompressionLZW, NewLZWCodec)
	r.Add(CompressionJPEG, NewJPEGCodec)
	r.Add(CompressionDeflate, NewDeflateCodec)
	return r
}

// Add registers a codec factory under a compression code.
func (r *CodecRegistry) Add(code uint16, factory CodecFactory) {
	r.byCode[code] = factory
}

// Get returns the factory registered for code, if any.
func (r *CodecRegistry) Get(code uint16) (CodecFactory, bool) {
	f, ok := r.byCode[code]
	return f, ok
}
