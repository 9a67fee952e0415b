package coverage

import (
	"database/sql"

	"github.com/jalad-shrimali/coverage-cache/dataset"
)

// Fact is one row of the long table.
type Fact struct {
	// Identity is aligned with LongTable.Columns; "" is missing.
	Identity []string
	Tech     string
	Pct      sql.NullFloat64
}

// LongTable is the normalized form of a raw table.
type LongTable struct {
	// Identity holds the raw column names actually used; absent ones are "".
	Identity     IdentityColumns
	Columns      []string
	Technologies []string
	Facts        []Fact
}

// ResolveIdentity keeps the identity columns present in the raw header,
// rewritten to the header's own spelling.
func ResolveIdentity(t *dataset.Table, want IdentityColumns) IdentityColumns {
	resolve := func(name string) string {
		if name == "" {
			return ""
		}
		if i := t.ColIdx(name); i >= 0 {
			return t.Columns[i]
		}
		return ""
	}
	return IdentityColumns{
		Location:  resolve(want.Location),
		Latitude:  resolve(want.Latitude),
		Longitude: resolve(want.Longitude),
		Region:    resolve(want.Region),
		Province:  resolve(want.Province),
		District:  resolve(want.District),
		AreaType:  resolve(want.AreaType),
	}
}

// Reshape unpivots the series into facts: for every raw row in order, one
// fact per series in order.
func Reshape(t *dataset.Table, identity IdentityColumns, series []Series) *LongTable {
	lt := &LongTable{Identity: identity, Columns: identity.Names()}
	idx := make([]int, len(lt.Columns))
	for i, c := range lt.Columns {
		idx[i] = indexOf(t.Columns, c)
	}
	for _, s := range series {
		lt.Technologies = append(lt.Technologies, s.Tech)
	}

	lt.Facts = make([]Fact, 0, len(t.Rows)*len(series))
	for r, row := range t.Rows {
		ident := make([]string, len(idx))
		for i, j := range idx {
			ident[i] = dataset.Pick(row, j)
		}
		for _, s := range series {
			lt.Facts = append(lt.Facts, Fact{Identity: ident, Tech: s.Tech, Pct: s.Values[r]})
		}
	}
	return lt
}

// Transform runs detection, normalization and reshaping over t.
func Transform(t *dataset.Table, identity IdentityColumns, techs []string) (*LongTable, error) {
	techs = NormalizeTechnologies(techs)
	detected := DetectColumns(t.Columns, techs)
	series := Normalize(t, detected)
	if len(series) == 0 {
		return nil, &SchemaError{Technologies: techs, Columns: len(t.Columns)}
	}
	return Reshape(t, ResolveIdentity(t, identity), series), nil
}
