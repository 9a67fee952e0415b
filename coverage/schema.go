// Package coverage reshapes the wide operator-by-technology coverage layout
// into a long fact table with one row per location and technology.
//
// Raw headers look like "<OPERATOR>_<TECH>_CG" (coverage percentage), with
// an optional "+CAR" marker, e.g. "ENTEL_4G_CG" or "CLARO_3G_CG+CAR". Every
// operator column of a technology is collapsed into one value by taking the
// row maximum.
package coverage

import (
	"regexp"
	"strings"
)

// DefaultTechnologies are the generations looked for when none are given.
var DefaultTechnologies = []string{"2G", "3G", "4G", "5G"}

// IdentityColumns names the raw columns that identify a location. An empty
// field means the column is not used.
type IdentityColumns struct {
	Location  string
	Latitude  string
	Longitude string
	Region    string
	Province  string
	District  string
	AreaType  string
}

// DefaultIdentity matches the headers of the national coverage dataset.
func DefaultIdentity() IdentityColumns {
	return IdentityColumns{
		Location:  "CentroPoblado",
		Latitude:  "Latitud",
		Longitude: "Longitud",
		Region:    "Departamento",
		Province:  "Provincia",
		District:  "Distrito",
		AreaType:  "Ambito",
	}
}

// Names returns the configured column names in long-table order.
func (c IdentityColumns) Names() []string {
	var out []string
	for _, n := range []string{c.Location, c.Latitude, c.Longitude, c.Region, c.Province, c.District, c.AreaType} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// TechnologyColumns are the raw columns detected for one technology.
type TechnologyColumns struct {
	Tech    string
	Columns []string
}

func techPattern(tech string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^.*_` + regexp.QuoteMeta(strings.ToUpper(strings.TrimSpace(tech))) + `_CG(\+CAR)?$`)
}

// MatchesTechnology reports whether column holds a coverage percentage for
// tech.
func MatchesTechnology(column, tech string) bool {
	return techPattern(tech).MatchString(column)
}

// DetectColumns returns, for each technology in order, the matching columns
// in header order. Technologies without a match get an empty Columns slice.
func DetectColumns(columns, techs []string) []TechnologyColumns {
	out := make([]TechnologyColumns, 0, len(techs))
	for _, tech := range techs {
		re := techPattern(tech)
		tc := TechnologyColumns{Tech: strings.ToUpper(strings.TrimSpace(tech))}
		for _, c := range columns {
			if re.MatchString(c) {
				tc.Columns = append(tc.Columns, c)
			}
		}
		out = append(out, tc)
	}
	return out
}

// NormalizeTechnologies upper-cases and trims tokens, dropping blanks and
// duplicates. An empty input yields DefaultTechnologies.
func NormalizeTechnologies(techs []string) []string {
	seen := make(map[string]bool, len(techs))
	var out []string
	for _, t := range techs {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultTechnologies...)
	}
	return out
}
