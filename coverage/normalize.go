package coverage

import (
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/jalad-shrimali/coverage-cache/dataset"
)

// Series is the normalized percentage column of one technology.
type Series struct {
	Tech     string
	Values   []sql.NullFloat64
	Rescaled bool
}

// Key is the conventional column name of the series, e.g. "pct_4G".
func (s Series) Key() string { return "pct_" + s.Tech }

// CoerceNumeric parses s as a number. Blank, unparsable and non-finite
// values are reported as missing; it never fails.
func CoerceNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Normalize builds one series per technology that has at least one
// detected column. Each row takes the maximum of its non-missing operator
// values. A series whose mean is at most 1 is taken to be in fractional
// units and multiplied by 100.
func Normalize(t *dataset.Table, detected []TechnologyColumns) []Series {
	var out []Series
	for _, tc := range detected {
		if len(tc.Columns) == 0 {
			continue
		}
		idx := make([]int, 0, len(tc.Columns))
		for _, c := range tc.Columns {
			if i := indexOf(t.Columns, c); i >= 0 {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			continue
		}

		s := Series{Tech: tc.Tech, Values: make([]sql.NullFloat64, len(t.Rows))}
		for r, row := range t.Rows {
			for _, i := range idx {
				v, ok := CoerceNumeric(row[i])
				if !ok {
					continue
				}
				if !s.Values[r].Valid || v > s.Values[r].Float64 {
					s.Values[r] = sql.NullFloat64{Float64: v, Valid: true}
				}
			}
		}

		if m, ok := Mean(s.Values); ok && m <= 1 {
			for r := range s.Values {
				if s.Values[r].Valid {
					s.Values[r].Float64 *= 100
				}
			}
			s.Rescaled = true
		}
		out = append(out, s)
	}
	return out
}

// Mean averages the valid values. ok is false when there are none.
func Mean(values []sql.NullFloat64) (mean float64, ok bool) {
	var sum float64
	n := 0
	for _, v := range values {
		if v.Valid {
			sum += v.Float64
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
