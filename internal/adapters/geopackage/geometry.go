package geopackage

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

var (
	errNotGeoPackageBinary = errors.New("not a GeoPackage geometry blob")
	errExtendedGeometry    = errors.New("extended GeoPackage geometry types are not supported")
)

const headerSize = 8

// envelopeSizes maps the envelope contents indicator to its size in bytes.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeGeometry decodes a GeoPackage binary geometry: a "GP" header,
// an optional envelope and standard WKB. A nil blob or the empty flag
// yields a nil geometry.
func decodeGeometry(blob []byte) (orb.Geometry, error) {
	if blob == nil {
		return nil, nil
	}
	if len(blob) < headerSize || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errNotGeoPackageBinary
	}

	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, errExtendedGeometry
	}
	envelope, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, fmt.Errorf("%w: envelope indicator %d", errNotGeoPackageBinary, (flags>>1)&0x07)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}

	start := headerSize + envelope
	if len(blob) <= start {
		return nil, fmt.Errorf("%w: truncated", errNotGeoPackageBinary)
	}
	geom, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, fmt.Errorf("decoding wkb: %w", err)
	}
	return geom, nil
}
