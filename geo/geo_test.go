package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jalad-shrimali/coverage-cache/cache"
)

func pct(f float64) *float64 { return &f }

var points = []cache.GeoPoint{
	{Location: "Lima", Lat: -12.0464, Lon: -77.0428, Pct: pct(95)},
	{Location: "Callao", Lat: -12.0566, Lon: -77.1181, Pct: pct(90)},
	{Location: "Ica", Lat: -14.0678, Lon: -75.7286, Pct: pct(55)},
	{Location: "Broken", Lat: math.NaN(), Lon: 0},
}

func TestCoverage_Geo_DistanceKm(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0, DistanceKm(-12, -77, -12, -77), 1e-9)
	// one degree of latitude
	require.InDelta(t, 111.19, DistanceKm(0, 0, 1, 0), 0.01)
	// Lima to Callao
	require.InDelta(t, 8.3, DistanceKm(-12.0464, -77.0428, -12.0566, -77.1181), 0.2)
}

func TestCoverage_Geo_Within(t *testing.T) {
	t.Parallel()

	t.Run("sorted nearest first", func(t *testing.T) {
		t.Parallel()
		got := Within(points, -12.0566, -77.1181, 50)
		require.Len(t, got, 2)
		require.Equal(t, "Callao", got[0].Location)
		require.InDelta(t, 0, got[0].DistanceKm, 1e-9)
		require.Equal(t, "Lima", got[1].Location)
	})

	t.Run("large radius includes every valid point", func(t *testing.T) {
		t.Parallel()
		got := Within(points, -12.0464, -77.0428, 1000)
		require.Len(t, got, 3)
		require.Equal(t, "Ica", got[2].Location)
	})

	t.Run("invalid centre", func(t *testing.T) {
		t.Parallel()
		got := Within(points, 95, 0, 1000)
		require.NotNil(t, got)
		require.Empty(t, got)
	})

	t.Run("negative radius", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, Within(points, -12, -77, -1))
	})
}

func TestCoverage_Geo_BoundsOf(t *testing.T) {
	t.Parallel()

	b, ok := BoundsOf(points)
	require.True(t, ok)
	require.Equal(t, 3, b.Points)
	require.InDelta(t, -14.0678, b.MinLat, 1e-9)
	require.InDelta(t, -12.0464, b.MaxLat, 1e-9)
	require.InDelta(t, -77.1181, b.MinLon, 1e-9)
	require.InDelta(t, -75.7286, b.MaxLon, 1e-9)
	require.InDelta(t, (-12.0464-12.0566-14.0678)/3, b.CenterLat, 1e-9)
	require.InDelta(t, (-77.0428-77.1181-75.7286)/3, b.CenterLon, 1e-9)

	_, ok = BoundsOf(nil)
	require.False(t, ok)
}

func TestCoverage_Geo_ValidCoordinate(t *testing.T) {
	t.Parallel()

	require.True(t, ValidCoordinate(-12, -77))
	require.False(t, ValidCoordinate(91, 0))
	require.False(t, ValidCoordinate(0, 181))
	require.False(t, ValidCoordinate(math.Inf(1), 0))
}
