// Package report summarizes cached coverage values and exports them as an
// xlsx workbook.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jalad-shrimali/coverage-cache/cache"
)

// Stats summarizes the non-missing percentages of one technology.
type Stats struct {
	Tech   string  `json:"tech"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
}

// Summarize computes Stats over vals. ok is false when every value is
// missing.
func Summarize(tech string, vals []cache.TechnologyValue) (Stats, bool) {
	xs := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v.Pct != nil {
			xs = append(xs, *v.Pct)
		}
	}
	if len(xs) == 0 {
		return Stats{}, false
	}
	return Stats{
		Tech:   tech,
		Count:  len(xs),
		Mean:   Mean.apply(xs),
		Median: Median.apply(xs),
		Max:    Max.apply(xs),
		Min:    Min.apply(xs),
	}, true
}

// Metric reduces the values of several locations to one number.
type Metric string

const (
	Mean   Metric = "mean"
	Median Metric = "median"
	Max    Metric = "max"
	Min    Metric = "min"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case Mean, Median, Max, Min:
		return m, nil
	case "":
		return Mean, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want mean, median, max or min)", s)
	}
}

// apply expects a non-empty slice.
func (m Metric) apply(xs []float64) float64 {
	switch m {
	case Median:
		s := append([]float64(nil), xs...)
		sort.Float64s(s)
		n := len(s)
		if n%2 == 1 {
			return s[n/2]
		}
		return (s[n/2-1] + s[n/2]) / 2
	case Max:
		out := math.Inf(-1)
		for _, x := range xs {
			out = math.Max(out, x)
		}
		return out
	case Min:
		out := math.Inf(1)
		for _, x := range xs {
			out = math.Min(out, x)
		}
		return out
	default:
		var sum float64
		for _, x := range xs {
			sum += x
		}
		return sum / float64(len(xs))
	}
}

// Aggregate is the metric of one technology across a set of locations.
type Aggregate struct {
	Tech      string   `json:"tech"`
	Value     *float64 `json:"value"`
	Locations int      `json:"locations"`
}

// AggregateByTechnology groups rows per technology and reduces each group
// with m. Missing percentages are ignored; a technology whose values are
// all missing gets a nil Value. Output is ordered by technology.
func AggregateByTechnology(rows []cache.LocationsValue, m Metric) []Aggregate {
	type group struct {
		vals []float64
		locs map[string]bool
	}
	groups := map[string]*group{}
	for _, r := range rows {
		g, ok := groups[r.Tech]
		if !ok {
			g = &group{locs: map[string]bool{}}
			groups[r.Tech] = g
		}
		g.locs[r.Location] = true
		if r.Pct != nil {
			g.vals = append(g.vals, *r.Pct)
		}
	}

	out := make([]Aggregate, 0, len(groups))
	for tech, g := range groups {
		a := Aggregate{Tech: tech, Locations: len(g.locs)}
		if len(g.vals) > 0 {
			v := m.apply(g.vals)
			a.Value = &v
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tech < out[j].Tech })
	return out
}
