package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidGeometry is returned when a GPS string or geometry input cannot
// be turned into a usable geometry. Callers are expected to skip the
// offending record rather than abort the batch.
var ErrInvalidGeometry = errors.New("invalid geometry")

// DefaultBufferMeters is the buffer width applied around structures when the
// deployment does not configure one.
const DefaultBufferMeters = 4.0

// Point is a WGS84 coordinate. Lng before Lat to match the (x, y) order
// PostGIS expects in ST_MakePoint and WKT.
type Point struct {
	Lng float64
	Lat float64
}

// Line is an ordered sequence of points (an open way).
type Line []Point

// Polygon is a single outer ring. The ring is stored closed: the first and
// last points are equal.
type Polygon []Point

// Geometry is implemented by Point, Line and Polygon.
type Geometry interface {
	WKT() string
}

func fmtCoord(p Point) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + " " + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

func (p Point) WKT() string {
	return "POINT(" + fmtCoord(p) + ")"
}

func (l Line) WKT() string {
	parts := make([]string, len(l))
	for i, p := range l {
		parts[i] = fmtCoord(p)
	}
	return "LINESTRING(" + strings.Join(parts, ",") + ")"
}

func (pg Polygon) WKT() string {
	parts := make([]string, len(pg))
	for i, p := range pg {
		parts[i] = fmtCoord(p)
	}
	return "POLYGON((" + strings.Join(parts, ",") + "))"
}

// PointFromGPS parses a whitespace-separated "lat lon [alt] [accuracy]"
// string as produced by mobile data-collection forms. Only the first two
// tokens are used. Note the swap: the form records latitude first, the
// returned Point is (lng, lat).
func PointFromGPS(s string) (Point, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return Point{}, fmt.Errorf("%w: gps string %q has fewer than 2 tokens", ErrInvalidGeometry, s)
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: bad latitude %q", ErrInvalidGeometry, fields[0])
	}
	lng, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: bad longitude %q", ErrInvalidGeometry, fields[1])
	}
	return Point{Lng: lng, Lat: lat}, nil
}

// metersPerDegree returns the approximate lengths of one degree of latitude
// and longitude at the given latitude, using the standard series expansion
// for the WGS84 ellipsoid.
func metersPerDegree(lat float64) (mLat, mLng float64) {
	rad := lat * math.Pi / 180
	mLat = 111132.954 - 559.822*math.Cos(2*rad) + 1.175*math.Cos(4*rad)
	mLng = 111412.84*math.Cos(rad) - 93.5*math.Cos(3*rad) + 0.118*math.Cos(5*rad)
	return mLat, mLng
}

const bufferSegments = 32

// BufferPoint returns a regular polygon of bufferSegments vertices around p
// with a radius of widthMeters real meters, scaling the longitude offset by
// the latitude so the buffer keeps its width away from the equator.
func BufferPoint(p Point, widthMeters float64) Polygon {
	mLat, mLng := metersPerDegree(p.Lat)
	dLat := widthMeters / mLat
	dLng := widthMeters / mLng

	ring := make(Polygon, 0, bufferSegments+1)
	for i := 0; i < bufferSegments; i++ {
		theta := 2 * math.Pi * float64(i) / bufferSegments
		ring = append(ring, Point{
			Lng: p.Lng + dLng*math.Cos(theta),
			Lat: p.Lat + dLat*math.Sin(theta),
		})
	}
	ring = append(ring, ring[0])
	return ring
}

// Buffer returns a polygon covering g expanded by widthMeters. Points get a
// circular buffer; lines and polygons get the convex hull of per-vertex
// circles, which is a close fit for building footprints at the small widths
// used here.
func Buffer(g Geometry, widthMeters float64) (Polygon, error) {
	switch v := g.(type) {
	case Point:
		return BufferPoint(v, widthMeters), nil
	case Line:
		return bufferVertices([]Point(v), widthMeters)
	case Polygon:
		return bufferVertices([]Point(v), widthMeters)
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %T", ErrInvalidGeometry, g)
	}
}

func bufferVertices(pts []Point, widthMeters float64) (Polygon, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: empty geometry", ErrInvalidGeometry)
	}
	var cloud []Point
	for _, p := range pts {
		ring := BufferPoint(p, widthMeters)
		cloud = append(cloud, ring[:len(ring)-1]...)
	}
	hull := convexHull(cloud)
	if len(hull) < 3 {
		return nil, fmt.Errorf("%w: degenerate buffer", ErrInvalidGeometry)
	}
	hull = append(hull, hull[0])
	return Polygon(hull), nil
}

// convexHull computes the convex hull of pts with Andrew's monotone chain.
// The result is counter-clockwise and open (no repeated first point).
func convexHull(pts []Point) []Point {
	if len(pts) < 3 {
		out := make([]Point, len(pts))
		copy(out, pts)
		return out
	}
	sorted := make([]Point, len(pts))
	copy(sorted, pts)
	sortPoints(sorted)

	cross := func(o, a, b Point) float64 {
		return (a.Lng-o.Lng)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lng-o.Lng)
	}

	var lower []Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	var upper []Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func sortPoints(pts []Point) {
	// insertion sort: vertex clouds here are small (tens of points)
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0; j-- {
			a, b := pts[j-1], pts[j]
			if a.Lng < b.Lng || (a.Lng == b.Lng && a.Lat <= b.Lat) {
				break
			}
			pts[j-1], pts[j] = b, a
		}
	}
}

// Centroid returns the arithmetic mean of the distinct vertices. For closed
// rings the duplicated closing point is ignored.
func Centroid(pts []Point) (Point, error) {
	if len(pts) == 0 {
		return Point{}, fmt.Errorf("%w: empty geometry", ErrInvalidGeometry)
	}
	n := len(pts)
	if n > 1 && pts[0] == pts[n-1] {
		n--
	}
	var c Point
	for _, p := range pts[:n] {
		c.Lng += p.Lng
		c.Lat += p.Lat
	}
	c.Lng /= float64(n)
	c.Lat /= float64(n)
	return c, nil
}

// IsClosedRing reports whether pts forms a valid closed polygon ring:
// at least four points with the first equal to the last.
func IsClosedRing(pts []Point) bool {
	return len(pts) >= 4 && pts[0] == pts[len(pts)-1]
}
