package smp

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// RegionBound extracts the bounding box of a GeoJSON region file:
// a FeatureCollection, a single Feature, or a bare geometry.
func RegionBound(data []byte) (orb.Bound, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		b := fc.Features[0].Geometry.Bound()
		for _, f := range fc.Features[1:] {
			b = b.Union(f.Geometry.Bound())
		}
		return b, nil
	}

	f, err := geojson.UnmarshalFeature(data)
	if err == nil {
		return f.Geometry.Bound(), nil
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err == nil {
		return g.Geometry().Bound(), nil
	}

	return orb.Bound{}, fmt.Errorf("region file contains no geometry")
}
