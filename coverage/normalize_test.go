package coverage

import (
	"database/sql"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jalad-shrimali/coverage-cache/dataset"
)

func valid(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

var missing = sql.NullFloat64{}

func TestCoverage_Normalize_CoerceNumeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 0.5 ", 0.5, true},
		{"-3e2", -300, true},
		{"", 0, false},
		{"   ", 0, false},
		{"n/a", 0, false},
		{"12%", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"1,5", 0, false},
	}
	for _, tt := range tests {
		got, ok := CoerceNumeric(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestCoverage_Normalize_RowMax(t *testing.T) {
	t.Parallel()

	tbl := dataset.New([]string{"A_4G_CG", "B_4G_CG"}, [][]string{
		{"10", ""},
		{"", "20"},
		{"30", "25"},
		{"", "bad"},
	})
	got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"4G"}))
	require.Len(t, got, 1)
	require.Equal(t, "pct_4G", got[0].Key())
	require.False(t, got[0].Rescaled)
	require.Equal(t, []sql.NullFloat64{valid(10), valid(20), valid(30), missing}, got[0].Values)
}

func TestCoverage_Normalize_MaxAcrossOperatorsSameRow(t *testing.T) {
	t.Parallel()

	// two operator columns [10, null] and [null, 20] observed for one row
	tbl := dataset.New([]string{"A_4G_CG", "B_4G_CG", "C_4G_CG+CAR"}, [][]string{{"10", "", "20"}})
	got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"4G"}))
	require.Equal(t, []sql.NullFloat64{valid(20)}, got[0].Values)
}

func TestCoverage_Normalize_FractionalRescale(t *testing.T) {
	t.Parallel()

	t.Run("mean 0.4 is rescaled", func(t *testing.T) {
		t.Parallel()
		tbl := dataset.New([]string{"X_3G_CG"}, [][]string{{"0.4"}, {"0.2"}, {"0.6"}, {""}})
		got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"3G"}))
		require.True(t, got[0].Rescaled)
		require.InDelta(t, 40.0, got[0].Values[0].Float64, 1e-9)
		require.InDelta(t, 20.0, got[0].Values[1].Float64, 1e-9)
		require.InDelta(t, 60.0, got[0].Values[2].Float64, 1e-9)
		require.False(t, got[0].Values[3].Valid)
	})

	t.Run("mean 55 is left alone", func(t *testing.T) {
		t.Parallel()
		tbl := dataset.New([]string{"X_3G_CG"}, [][]string{{"50"}, {"60"}})
		got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"3G"}))
		require.False(t, got[0].Rescaled)
		require.Equal(t, []sql.NullFloat64{valid(50), valid(60)}, got[0].Values)
	})

	t.Run("mean exactly 1 is rescaled", func(t *testing.T) {
		t.Parallel()
		tbl := dataset.New([]string{"X_3G_CG"}, [][]string{{"1"}, {"1"}})
		got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"3G"}))
		require.True(t, got[0].Rescaled)
		require.Equal(t, 100.0, got[0].Values[0].Float64)
	})

	t.Run("all missing stays missing", func(t *testing.T) {
		t.Parallel()
		tbl := dataset.New([]string{"X_3G_CG", "name"}, [][]string{{"", "a"}, {"-", "b"}})
		got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"3G"}))
		require.False(t, got[0].Rescaled)
		require.Equal(t, []sql.NullFloat64{missing, missing}, got[0].Values)
	})

	t.Run("technologies are rescaled independently", func(t *testing.T) {
		t.Parallel()
		tbl := dataset.New([]string{"X_2G_CG", "X_4G_CG"}, [][]string{{"0.9", "90"}, {"0.1", "10"}})
		got := Normalize(tbl, DetectColumns(tbl.Columns, []string{"2G", "4G"}))
		require.Len(t, got, 2)
		require.True(t, got[0].Rescaled)
		require.False(t, got[1].Rescaled)
		require.InDelta(t, 90.0, got[0].Values[0].Float64, 1e-9)
		require.Equal(t, 90.0, got[1].Values[0].Float64)
	})
}

func TestCoverage_Normalize_SkipsTechnologiesWithoutColumns(t *testing.T) {
	t.Parallel()

	tbl := dataset.New([]string{"X_4G_CG"}, [][]string{{"80"}})
	got := Normalize(tbl, DetectColumns(tbl.Columns, DefaultTechnologies))
	require.Len(t, got, 1)
	require.Equal(t, "4G", got[0].Tech)
}

func TestCoverage_Normalize_Mean(t *testing.T) {
	t.Parallel()

	m, ok := Mean([]sql.NullFloat64{valid(1), missing, valid(3)})
	require.True(t, ok)
	require.Equal(t, 2.0, m)

	m, ok = Mean([]sql.NullFloat64{missing})
	require.False(t, ok)
	require.False(t, math.IsNaN(m))
}
