package dataset

import (
	"math"
	"strconv"
	"strings"
)

// ColumnProfile summarises one raw column for the audit view.
type ColumnProfile struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	NonNull int     `json:"non_null"`
	Missing int     `json:"missing"`
	Numeric float64 `json:"numeric_share"`
}

// Profile reports, per column, how many cells are present or missing and
// which share of the present cells parse as numbers.
func Profile(t *Table) []ColumnProfile {
	out := make([]ColumnProfile, len(t.Columns))
	for i, name := range t.Columns {
		p := ColumnProfile{Name: name}
		numeric := 0
		for _, row := range t.Rows {
			v := strings.TrimSpace(row[i])
			if v == "" {
				p.Missing++
				continue
			}
			p.NonNull++
			if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
				numeric++
			}
		}
		if p.NonNull > 0 {
			p.Numeric = float64(numeric) / float64(p.NonNull)
		}
		switch {
		case p.NonNull == 0:
			p.Kind = "empty"
		case numeric == p.NonNull:
			p.Kind = "numeric"
		case numeric == 0:
			p.Kind = "text"
		default:
			p.Kind = "mixed"
		}
		out[i] = p
	}
	return out
}
