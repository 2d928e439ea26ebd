package cog

import "strings"

// GeoKey is one entry of a GeoKeyDirectory: a meta-tag nested inside the
// GeoKeyDirectory TIFF tag. TagLocation==0 means Value is the literal
// ValueOffset SHORT; otherwise TagLocation names the TIFF
// tag whose value array holds Count values starting at ValueOffset.
type GeoKey struct {
	Id          uint16
	Name        string
	TagLocation uint16
	Count       uint16
	ValueOffset uint16

	// ParsedValue holds the geokey's enumerated/ASCII interpretation, if
	// the registry knows one for this key id; otherwise it is the raw
	// resolved numeric value.
	ParsedValue interface{}
}

// GeoKeyDescriptor is a registered geokey's identity and, for the subset of
// keys with a known enumerated/ASCII interpretation, that interpretation.
type GeoKeyDescriptor struct {
	Id    uint16
	Name  string
	Enum  map[uint16]string // nil if the key has no enumerated interpretation
	ASCII bool              // true for GTCitation/GeographicCitation-style keys
}

// GeoKeyRegistry maps GeoKey ids to their descriptors, mirroring
// TagRegistry's structure for the parallel geokey id space.
type GeoKeyRegistry struct {
	byId map[uint16]GeoKeyDescriptor
}

// NewGeoKeyRegistry returns an empty registry.
func NewGeoKeyRegistry() *GeoKeyRegistry {
	return &GeoKeyRegistry{byId: map[uint16]GeoKeyDescriptor{}}
}

// NewDefaultGeoKeyRegistry returns a registry pre-populated with the
// well-known GeoTIFF configuration/geographic/projected keys.
func NewDefaultGeoKeyRegistry() *GeoKeyRegistry {
	r := NewGeoKeyRegistry()
	r.Add(
		GeoKeyDescriptor{Id: 1024, Name: "GTModelType", Enum: map[uint16]string{
			1: "Projected", 2: "Geographic", 3: "Geocentric",
		}},
		GeoKeyDescriptor{Id: 1025, Name: "GTRasterType", Enum: map[uint16]string{
			1: "PixelIsArea", 2: "PixelIsPoint",
		}},
		GeoKeyDescriptor{Id: 1026, Name: "GTCitation", ASCII: true},
		GeoKeyDescriptor{Id: 2048, Name: "GeographicType"},
		GeoKeyDescriptor{Id: 2049, Name: "GeographicCitation", ASCII: true},
		GeoKeyDescriptor{Id: 2050, Name: "GeographicGeodeticDatum"},
		GeoKeyDescriptor{Id: 2051, Name: "GeographicPrimeMeridian"},
		GeoKeyDescriptor{Id: 2052, Name: "GeographicLinearUnits"},
		GeoKeyDescriptor{Id: 2053, Name: "GeographicLinearUnitSize"},
		GeoKeyDescriptor{Id: 2054, Name: "GeographicAngularUnits", Enum: map[uint16]string{
			9101: "Radian", 9102: "Degree", 9103: "ArcMinute", 9104: "ArcSecond",
			9105: "Grad", 9106: "Gon", 9107: "DMS", 9108: "DMSHemisphere",
		}},
		GeoKeyDescriptor{Id: 2055, Name: "GeographicAngularUnitSize"},
		GeoKeyDescriptor{Id: 2056, Name: "GeographicEllipsoid"},
		GeoKeyDescriptor{Id: 2057, Name: "GeographicSemiMajorAxis"},
		GeoKeyDescriptor{Id: 2058, Name: "GeographicSemiMinorAxis"},
		GeoKeyDescriptor{Id: 2059, Name: "GeographicInvFlattening"},
		GeoKeyDescriptor{Id: 2060, Name: "GeographicAzimuthUnits"},
		GeoKeyDescriptor{Id: 3072, Name: "ProjectedType"},
		GeoKeyDescriptor{Id: 3076, Name: "ProjectedLinearUnits", Enum: map[uint16]string{
			9001: "Meter", 9002: "Foot", 9003: "FootUSSurvey", 9004: "FootModifiedAmerican",
			9005: "FootClarke", 9006: "FootIndian", 9007: "Link", 9008: "LinkBenoit",
			9009: "LinkSears", 9010: "ChainBenoit", 9011: "ChainSears", 9012: "YardSears",
			9013: "YardIndian", 9014: "LinearFathom", 9015: "LinearMileInternationalNautical",
		}},
	)
	return r
}

// Add registers one or more geokey descriptors, keyed by id.
func (r *GeoKeyRegistry) Add(keys ...GeoKeyDescriptor) {
	for _, k := range keys {
		r.byId[k.Id] = k
	}
}

// Get returns the descriptor for a geokey id, if registered.
func (r *GeoKeyRegistry) Get(id uint16) (GeoKeyDescriptor, bool) {
	k, ok := r.byId[id]
	return k, ok
}

// parseGeoKeyDirectory groups the GeoKeyDirectory tag's raw SHORT array
// into 4-tuples, the first of which is a
// header, and unmarshalled into IFD-owned GeoKey records. tags is the
// IFD's already-fully-parsed tag map (parsing runs as a second pass after
// all of the IFD's own tags are in hand, since a geokey may reference a
// tag parsed earlier in the same IFD).
func parseGeoKeyDirectory(raw []uint16, tags map[string]*Tag, geoRegistry *GeoKeyRegistry, tagRegistry *TagRegistry, warn func(format string, args ...interface{})) map[string]*GeoKey {
	if len(raw) < 4 {
		return nil
	}
	numberOfKeys := raw[3]
	keys := make(map[string]*GeoKey, numberOfKeys)

	entries := raw[4:]
	for i := 0; i < int(numberOfKeys) && (i+1)*4 <= len(entries); i++ {
		e := entries[i*4 : i*4+4]
		keyId, tagLocation, count, valueOffset := e[0], e[1], e[2], e[3]

		desc, ok := geoRegistry.Get(keyId)
		if !ok {
			warn("unknown geokey %d, skipping", keyId)
			continue
		}

		gk := &GeoKey{
			Id:          keyId,
			Name:        desc.Name,
			TagLocation: tagLocation,
			Count:       count,
			ValueOffset: valueOffset,
		}
		gk.ParsedValue = resolveGeoKeyValue(gk, desc, tags, tagRegistry, warn)
		keys[desc.Name] = gk
	}
	return keys
}

// resolveGeoKeyValue follows tag-location indirection and applies the
// descriptor's
// enum/ASCII interpretation, if any.
func resolveGeoKeyValue(gk *GeoKey, desc GeoKeyDescriptor, tags map[string]*Tag, tagRegistry *TagRegistry, warn func(format string, args ...interface{})) interface{} {
	if gk.TagLocation == 0 {
		if desc.Enum != nil {
			if name, ok := desc.Enum[gk.ValueOffset]; ok {
				return name
			}
			return gk.ValueOffset
		}
		return gk.ValueOffset
	}

	refDesc, ok := tagRegistry.Get(gk.TagLocation)
	if !ok {
		warn("geokey %s references unknown tag %d, skipping", gk.Name, gk.TagLocation)
		return nil
	}
	refTag, ok := tags[refDesc.Name]
	if !ok {
		warn("geokey %s references tag %s not present in this IFD", gk.Name, refDesc.Name)
		return nil
	}

	if desc.ASCII {
		s, _ := refTag.Value.(string)
		start := int(gk.ValueOffset)
		end := start + int(gk.Count)
		if start < 0 || end > len(s) {
			warn("geokey %s ascii range [%d:%d] out of bounds of %s (len %d)", gk.Name, start, end, refDesc.Name, len(s))
			return nil
		}
		return strings.TrimSuffix(s[start:end], "|")
	}

	switch v := refTag.Value.(type) {
	case []uint16:
		start, end := int(gk.ValueOffset), int(gk.ValueOffset)+int(gk.Count)
		if start < 0 || end > len(v) {
			warn("geokey %s numeric range [%d:%d] out of bounds of %s (len %d)", gk.Name, start, end, refDesc.Name, len(v))
			return nil
		}
		sliced := v[start:end]
		if desc.Enum != nil && len(sliced) == 1 {
			if name, ok := desc.Enum[sliced[0]]; ok {
				return name
			}
		}
		return sliced
	case []uint32:
		start, end := int(gk.ValueOffset), int(gk.ValueOffset)+int(gk.Count)
		if start < 0 || end > len(v) {
			warn("geokey %s numeric range [%d:%d] out of bounds of %s (len %d)", gk.Name, start, end, refDesc.Name, len(v))
			return nil
		}
		return v[start:end]
	case []float64:
		start, end := int(gk.ValueOffset), int(gk.ValueOffset)+int(gk.Count)
		if start < 0 || end > len(v) {
			warn("geokey %s numeric range [%d:%d] out of bounds of %s (len %d)", gk.Name, start, end, refDesc.Name, len(v))
			return nil
		}
		return v[start:end]
	default:
		warn("geokey %s references tag %s of unsupported type for indirection", gk.Name, refDesc.Name)
		return nil
	}
}
