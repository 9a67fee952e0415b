// Package geo filters located coverage facts by great-circle distance and
// computes the viewport for the map endpoint.
package geo

import (
	"math"
	"sort"

	"github.com/golang/geo/s2"

	"github.com/jalad-shrimali/coverage-cache/cache"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// Located is a point with its distance from a query centre.
type Located struct {
	cache.GeoPoint
	DistanceKm float64 `json:"distance_km"`
}

// Bounds is the bounding box of a point set and its centre. The centre is
// the arithmetic mean of the coordinates, not the box midpoint.
type Bounds struct {
	MinLat    float64 `json:"min_lat"`
	MinLon    float64 `json:"min_lon"`
	MaxLat    float64 `json:"max_lat"`
	MaxLon    float64 `json:"max_lon"`
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	Points    int     `json:"points"`
}

// ValidCoordinate reports whether lat/lon are finite and in range.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return s2.LatLngFromDegrees(lat, lon).IsValid()
}

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return float64(a.Distance(b)) * EarthRadiusKm
}

// Within returns the points no further than radiusKm from (lat, lon),
// nearest first. Ties keep input order.
func Within(points []cache.GeoPoint, lat, lon, radiusKm float64) []Located {
	out := []Located{}
	if !ValidCoordinate(lat, lon) || radiusKm < 0 {
		return out
	}
	centre := s2.LatLngFromDegrees(lat, lon)
	for _, p := range points {
		if !ValidCoordinate(p.Lat, p.Lon) {
			continue
		}
		d := float64(centre.Distance(s2.LatLngFromDegrees(p.Lat, p.Lon))) * EarthRadiusKm
		if d <= radiusKm {
			out = append(out, Located{GeoPoint: p, DistanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// BoundsOf returns the viewport of the valid points. ok is false when there
// are none.
func BoundsOf(points []cache.GeoPoint) (b Bounds, ok bool) {
	rect := s2.EmptyRect()
	var sumLat, sumLon float64
	for _, p := range points {
		if !ValidCoordinate(p.Lat, p.Lon) {
			continue
		}
		rect = rect.AddPoint(s2.LatLngFromDegrees(p.Lat, p.Lon))
		sumLat += p.Lat
		sumLon += p.Lon
		b.Points++
	}
	if b.Points == 0 {
		return Bounds{}, false
	}
	b.MinLat, b.MinLon = rect.Lo().Lat.Degrees(), rect.Lo().Lng.Degrees()
	b.MaxLat, b.MaxLon = rect.Hi().Lat.Degrees(), rect.Hi().Lng.Degrees()
	b.CenterLat = sumLat / float64(b.Points)
	b.CenterLon = sumLon / float64(b.Points)
	return b, true
}
