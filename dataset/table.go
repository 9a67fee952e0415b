// Package dataset holds the raw tabular dataset as ingested: ordered column
// names and rows of string cells. A cell that is empty after trimming is a
// missing value.
package dataset

import (
	"fmt"
	"regexp"
	"strings"
)

// Table is a column-name indexed, row ordered raw dataset.
type Table struct {
	Columns []string
	Rows    [][]string
}

var spaceRE = regexp.MustCompile(`\s+`)

// Norm lower-cases a header and collapses whitespace so that headers can be
// compared loosely.
func Norm(s string) string {
	return spaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// New builds a table from a header row and data rows. Headers are trimmed,
// blank headers become "Unnamed: <i>" and repeated headers get a ".<n>"
// suffix. Rows are padded or truncated to the header width.
func New(header []string, rows [][]string) *Table {
	t := &Table{Columns: uniqueHeader(header), Rows: make([][]string, 0, len(rows))}
	for _, rec := range rows {
		if isBlank(rec) {
			continue
		}
		row := make([]string, len(t.Columns))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t
}

func uniqueHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		// sqlite identifiers are case-insensitive
		name := h
		for n := 1; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColIdx returns the index of the column whose header matches key loosely,
// or -1.
func (t *Table) ColIdx(key string) int { return ColIdxAny(t.Columns, key) }

// ColIdxAny returns the index of the first header matching any of keys, or -1.
func ColIdxAny(header []string, keys ...string) int {
	for _, k := range keys {
		k = Norm(k)
		for i, h := range header {
			if Norm(h) == k {
				return i
			}
		}
	}
	return -1
}

// Pick returns the trimmed cell at idx, or "" when idx is out of range.
func Pick(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

// TrimColumn trims surrounding whitespace from every value of the named
// column. It is a no-op when the column is absent.
func (t *Table) TrimColumn(name string) {
	idx := t.ColIdx(name)
	if idx < 0 {
		return
	}
	for _, row := range t.Rows {
		row[idx] = strings.TrimSpace(row[idx])
	}
}

// Head returns a table with at most n leading rows sharing the same columns.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}
