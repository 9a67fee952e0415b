package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/metrics"
)

// maxLocationsPerQuery keeps IN lists under sqlite's bound-parameter limit.
const maxLocationsPerQuery = 500

type TechnologyValue struct {
	Pct *float64 `json:"pct"`
}

type GeoPoint struct {
	Location string   `json:"location"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Pct      *float64 `json:"pct"`
}

type LocationValue struct {
	Tech string   `json:"tech"`
	Pct  *float64 `json:"pct"`
}

type LocationsValue struct {
	Tech     string   `json:"tech"`
	Pct      *float64 `json:"pct"`
	Location string   `json:"location"`
}

// DistinctLocations returns every non-null location in ascending order.
func (s *Store) DistinctLocations(ctx context.Context) ([]string, error) {
	loc := quoteIdent(s.cfg.Identity.Location)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		loc, quoteIdent(s.cfg.LongTable), loc, loc)

	out := []string{}
	err := s.query(ctx, "distinct_locations", q, nil, func(rows *sql.Rows) error {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// ValuesByTechnology returns the percentage of every fact for tech.
func (s *Store) ValuesByTechnology(ctx context.Context, tech string) ([]TechnologyValue, error) {
	q := fmt.Sprintf("SELECT pct FROM %s WHERE tech = ?", quoteIdent(s.cfg.LongTable))

	out := []TechnologyValue{}
	err := s.query(ctx, "values_by_technology", q, []any{normTech(tech)}, func(rows *sql.Rows) error {
		var pct sql.NullFloat64
		if err := rows.Scan(&pct); err != nil {
			return err
		}
		out = append(out, TechnologyValue{Pct: floatPtr(pct)})
		return nil
	})
	return out, err
}

// GeoByTechnology returns the located facts for tech. Facts without both
// coordinates are excluded.
func (s *Store) GeoByTechnology(ctx context.Context, tech string) ([]GeoPoint, error) {
	id := s.cfg.Identity
	if id.Latitude == "" || id.Longitude == "" {
		return []GeoPoint{}, nil
	}
	lat, lon := quoteIdent(id.Latitude), quoteIdent(id.Longitude)
	q := fmt.Sprintf("SELECT %s, %s, %s, pct FROM %s WHERE tech = ? AND %s IS NOT NULL AND %s IS NOT NULL",
		quoteIdent(id.Location), lat, lon, quoteIdent(s.cfg.LongTable), lat, lon)

	out := []GeoPoint{}
	err := s.query(ctx, "geo_by_technology", q, []any{normTech(tech)}, func(rows *sql.Rows) error {
		var (
			p   GeoPoint
			loc sql.NullString
			pct sql.NullFloat64
		)
		if err := rows.Scan(&loc, &p.Lat, &p.Lon, &pct); err != nil {
			return err
		}
		p.Location = loc.String
		p.Pct = floatPtr(pct)
		out = append(out, p)
		return nil
	})
	return out, err
}

// ValuesByLocation returns one entry per fact stored for location.
func (s *Store) ValuesByLocation(ctx context.Context, location string) ([]LocationValue, error) {
	q := fmt.Sprintf("SELECT tech, pct FROM %s WHERE %s = ?",
		quoteIdent(s.cfg.LongTable), quoteIdent(s.cfg.Identity.Location))

	out := []LocationValue{}
	err := s.query(ctx, "values_by_location", q, []any{location}, func(rows *sql.Rows) error {
		var (
			v   LocationValue
			pct sql.NullFloat64
		)
		if err := rows.Scan(&v.Tech, &pct); err != nil {
			return err
		}
		v.Pct = floatPtr(pct)
		out = append(out, v)
		return nil
	})
	return out, err
}

// ValuesByLocations is ValuesByLocation over a set of locations. An empty
// set returns an empty result without touching the database.
func (s *Store) ValuesByLocations(ctx context.Context, locations []string) ([]LocationsValue, error) {
	out := []LocationsValue{}
	locations = dedupe(locations)
	if len(locations) == 0 {
		return out, nil
	}

	for start := 0; start < len(locations); start += maxLocationsPerQuery {
		end := min(start+maxLocationsPerQuery, len(locations))
		chunk := locations[start:end]

		args := make([]any, len(chunk))
		for i, l := range chunk {
			args[i] = l
		}
		loc := quoteIdent(s.cfg.Identity.Location)
		q := fmt.Sprintf("SELECT tech, pct, %s FROM %s WHERE %s IN (%s)",
			loc, quoteIdent(s.cfg.LongTable), loc, strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","))

		err := s.query(ctx, "values_by_locations", q, args, func(rows *sql.Rows) error {
			var (
				v   LocationsValue
				pct sql.NullFloat64
			)
			if err := rows.Scan(&v.Tech, &pct, &v.Location); err != nil {
				return err
			}
			v.Pct = floatPtr(pct)
			out = append(out, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RawPreview returns up to limit rows of the raw table as stored.
func (s *Store) RawPreview(ctx context.Context, limit int) (*dataset.Table, error) {
	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT ?", quoteIdent(s.cfg.RawTable)), limit)
	if err != nil {
		metrics.RecordQuery("raw_preview", time.Since(start), err)
		return nil, &StorageError{Op: "raw_preview", Err: err}
	}
	defer rows.Close()

	t, err := scanTable(rows)
	metrics.RecordQuery("raw_preview", time.Since(start), err)
	if err != nil {
		return nil, &StorageError{Op: "raw_preview", Err: err}
	}
	return t, nil
}

func scanTable(rows *sql.Rows) (*dataset.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := &dataset.Table{Columns: cols}
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make([]string, len(cols))
		for i, v := range vals {
			rec[i] = v.String
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, rows.Err()
}

func (s *Store) query(ctx context.Context, name, q string, args []any, scan func(*sql.Rows) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordQuery(name, time.Since(start), err)
		if err != nil {
			s.log.Debug("cache/query: failed", "query", name, "error", err)
			err = &StorageError{Op: name, Err: err}
		}
	}()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func normTech(tech string) string {
	return strings.ToUpper(strings.TrimSpace(tech))
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
