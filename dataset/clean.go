package dataset

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// decimalCommaRE matches numbers written with a comma as the decimal mark,
// e.g. "45,5" or "-0,75".
var decimalCommaRE = regexp.MustCompile(`^[+-]?\d*,\d+$`)

// CleanResult reports what Clean changed.
type CleanResult struct {
	DecimalCommaColumns []string
	DuplicateRows       int
}

// Clean normalizes t in place before it is cached:
//   - whitespace in every cell is trimmed and runs (newlines included) are
//     collapsed to a single space;
//   - in a column whose present cells are all numeric once a decimal comma
//     is read as a point, the commas are rewritten to points;
//   - exact duplicate rows are dropped, keeping the first.
//
// Text values keep their case and spaces so that locations are stored and
// queried as published.
func Clean(t *Table) CleanResult {
	var res CleanResult
	for _, row := range t.Rows {
		for j, v := range row {
			row[j] = spaceRE.ReplaceAllString(strings.TrimSpace(v), " ")
		}
	}

	for j, name := range t.Columns {
		if decimalCommaColumn(t.Rows, j) {
			for _, row := range t.Rows {
				row[j] = strings.Replace(row[j], ",", ".", 1)
			}
			res.DecimalCommaColumns = append(res.DecimalCommaColumns, name)
		}
	}

	seen := make(map[string]bool, len(t.Rows))
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			res.DuplicateRows++
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}
	t.Rows = kept
	return res
}

// decimalCommaColumn reports whether column j has at least one decimal
// comma and every present cell parses as a number.
func decimalCommaColumn(rows [][]string, j int) bool {
	commas := 0
	for _, row := range rows {
		v := row[j]
		if v == "" {
			continue
		}
		if decimalCommaRE.MatchString(v) {
			commas++
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return commas > 0
}
