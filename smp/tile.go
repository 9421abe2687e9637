package smp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// MaxMercatorLat is the latitude bound of the Web Mercator projection.
const MaxMercatorLat = 85.051129

// TileScheme selects how the Y coordinate is rendered into tile URLs.
// Storage coordinates are always XYZ regardless of scheme.
type TileScheme int

const (
	SchemeXYZ TileScheme = iota
	SchemeTMS
)

// Zxy is a tile coordinate. Invariant: 0 <= X,Y < 2^Z.
type Zxy struct {
	Z uint8
	X uint32
	Y uint32
}

func (t Zxy) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileToBbox returns the WGS84 bound of a tile via spherical Mercator.
func TileToBbox(t Zxy) orb.Bound {
	n := float64(uint64(1) << t.Z)
	west := float64(t.X)/n*360 - 180
	east := float64(t.X+1)/n*360 - 180
	north := mercatorLat(float64(t.Y) / n)
	south := mercatorLat(float64(t.Y+1) / n)
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

// inverse Gudermannian
func mercatorLat(yNorm float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*yNorm))) * 180 / math.Pi
}

// TileAt returns the tile containing lon/lat at zoom z. Latitudes are
// clamped to the Mercator bound, longitudes to [-180, 180).
func TileAt(lon float64, lat float64, z uint8) Zxy {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	lon = math.Max(-180, math.Min(180, lon))
	n := float64(uint64(1) << z)
	x := int64((lon + 180) / 360 * n)
	latRad := lat * math.Pi / 180
	y := int64((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	limit := int64(n) - 1
	if x > limit {
		x = limit
	}
	if y > limit {
		y = limit
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return Zxy{Z: z, X: uint32(x), Y: uint32(y)}
}

// Quadkey returns the base-4 quadkey of a tile; z=0 yields "".
func Quadkey(t Zxy) string {
	var sb strings.Builder
	for i := int(t.Z); i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		sb.WriteByte(digit)
	}
	return sb.String()
}

// UnionBounds is the component-wise union; the zero-length case returns
// an empty bound.
func UnionBounds(bounds []orb.Bound) orb.Bound {
	if len(bounds) == 0 {
		return orb.Bound{}
	}
	u := bounds[0]
	for _, b := range bounds[1:] {
		u = u.Union(b)
	}
	return u
}

// RenderTileURL expands a tile URL template for a coordinate. Multiple
// templates are load-balanced by (x+y) mod len(templates). Supported
// tokens: {z} {x} {y} {quadkey} {prefix}; scheme SchemeTMS flips y.
func RenderTileURL(templates []string, t Zxy, scheme TileScheme) string {
	if len(templates) == 0 {
		return ""
	}
	template := templates[(t.X+t.Y)%uint32(len(templates))]

	y := t.Y
	if scheme == SchemeTMS {
		y = uint32(1<<t.Z) - t.Y - 1
	}

	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
		"{quadkey}", Quadkey(t),
		"{prefix}", fmt.Sprintf("%02x", (t.X+t.Y)%16),
	)
	return r.Replace(template)
}

// BboxFromString parses "minLon,minLat,maxLon,maxLat".
func BboxFromString(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have four comma-separated values, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox component %d: %w", i, err)
		}
		vals[i] = v
	}
	b := orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}
	if b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() ||
		b.Min.X() < -180 || b.Max.X() > 180 || b.Min.Y() < -90 || b.Max.Y() > 90 {
		return orb.Bound{}, fmt.Errorf("bbox out of range: %q", s)
	}
	return b, nil
}

// ClampToMercator shrinks a bound to the Web Mercator latitude range.
func ClampToMercator(b orb.Bound) orb.Bound {
	minY := math.Max(b.Min.Y(), -MaxMercatorLat)
	maxY := math.Min(b.Max.Y(), MaxMercatorLat)
	return orb.Bound{
		Min: orb.Point{b.Min.X(), minY},
		Max: orb.Point{b.Max.X(), maxY},
	}
}

// TileRange returns the inclusive tile rectangle covering bound at zoom z.
func TileRange(b orb.Bound, z uint8) (x0, y0, x1, y1 uint32) {
	tl := TileAt(b.Min.X(), b.Max.Y(), z)
	br := TileAt(b.Max.X(), b.Min.Y(), z)
	return tl.X, tl.Y, br.X, br.Y
}
