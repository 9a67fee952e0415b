package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jalad-shrimali/coverage-cache/coverage"
	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/metrics"
)

// Lookup indexes on the long table.
const (
	IndexLocation = "idx_cov_long_cp"
	IndexTech     = "idx_cov_long_tech"
	IndexAreaType = "idx_cov_long_amb"
)

// BuildResult describes what a Build call did.
type BuildResult struct {
	Skipped      bool
	RawRows      int
	LongRows     int
	Technologies []string
	Duration     time.Duration
}

// Build populates the cache from t. Unless rebuild is set, a long table
// that already has rows is left untouched. Otherwise the raw table is
// replaced, the long table is recomputed and replaced, and the lookup
// indexes are recreated.
//
// When no technology column is detected the raw table has already been
// written and a *coverage.SchemaError is returned.
func (s *Store) Build(ctx context.Context, t *dataset.Table, rebuild bool) (BuildResult, error) {
	if t == nil {
		return BuildResult{}, errors.New("cache: nil dataset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cfg.Clock.Now()
	res, err := s.build(ctx, t, rebuild)
	res.Duration = s.cfg.Clock.Since(start)

	var schemaErr *coverage.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		metrics.RecordBuild("schema_error", res.Duration, 0)
	case err != nil:
		metrics.RecordBuild("error", res.Duration, 0)
	case res.Skipped:
		metrics.RecordBuild("skipped", res.Duration, res.LongRows)
	default:
		metrics.RecordBuild("built", res.Duration, res.LongRows)
		s.log.Info("cache/store: build complete",
			"raw_rows", res.RawRows, "long_rows", res.LongRows,
			"technologies", strings.Join(res.Technologies, ","), "duration", res.Duration)
	}
	return res, err
}

func (s *Store) build(ctx context.Context, t *dataset.Table, rebuild bool) (BuildResult, error) {
	if !rebuild {
		n, err := s.Count(ctx)
		if err != nil {
			s.log.Debug("cache/store: long table not readable, building", "table", s.cfg.LongTable, "error", err)
		} else if n > 0 {
			s.log.Info("cache/store: long table already populated, skipping build", "table", s.cfg.LongTable, "rows", n)
			return BuildResult{Skipped: true, LongRows: n}, nil
		}
	}

	t.TrimColumn(s.cfg.Identity.Location)
	if err := s.writeRaw(ctx, t); err != nil {
		return BuildResult{}, &StorageError{Op: "write raw table", Err: err}
	}
	res := BuildResult{RawRows: t.Len()}

	lt, err := coverage.Transform(t, s.cfg.Identity, s.cfg.Technologies)
	if err != nil {
		s.log.Debug("cache/store: no coverage columns, long table not rebuilt", "raw_table", s.cfg.RawTable, "error", err)
		return res, err
	}
	if err := s.writeLong(ctx, lt); err != nil {
		return res, &StorageError{Op: "write long table", Err: err}
	}
	res.LongRows = len(lt.Facts)
	res.Technologies = lt.Technologies

	s.createIndexes(ctx, lt)
	return res, nil
}

// Count returns the number of rows in the long table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+quoteIdent(s.cfg.LongTable)).Scan(&n)
	return n, err
}

func (s *Store) writeRaw(ctx context.Context, t *dataset.Table) error {
	if len(t.Columns) == 0 {
		s.log.Warn("cache/store: dataset has no columns, dropping raw table", "table", s.cfg.RawTable)
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(s.cfg.RawTable)); err != nil {
			return fmt.Errorf("drop %s: %w", s.cfg.RawTable, err)
		}
		return nil
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c) + " TEXT"
	}

	return s.replaceTable(ctx, s.cfg.RawTable, cols, len(t.Columns), len(t.Rows), func(i int) []any {
		args := make([]any, len(t.Columns))
		for j, v := range t.Rows[i] {
			args[j] = nullIfBlank(v)
		}
		return args
	})
}

func (s *Store) writeLong(ctx context.Context, lt *coverage.LongTable) error {
	numeric := make([]bool, len(lt.Columns))
	cols := make([]string, 0, len(lt.Columns)+2)
	for i, c := range lt.Columns {
		typ := "TEXT"
		if c == lt.Identity.Latitude || c == lt.Identity.Longitude {
			typ = "REAL"
			numeric[i] = true
		}
		cols = append(cols, quoteIdent(c)+" "+typ)
	}
	cols = append(cols, "tech TEXT NOT NULL", "pct REAL")

	return s.replaceTable(ctx, s.cfg.LongTable, cols, len(cols), len(lt.Facts), func(i int) []any {
		f := lt.Facts[i]
		args := make([]any, 0, len(cols))
		for j, v := range f.Identity {
			if numeric[j] {
				if x, ok := coverage.CoerceNumeric(v); ok {
					args = append(args, x)
				} else {
					args = append(args, nil)
				}
				continue
			}
			args = append(args, nullIfBlank(v))
		}
		return append(args, f.Tech, f.Pct)
	})
}

// replaceTable drops and recreates table and inserts n rows in a single
// transaction.
func (s *Store) replaceTable(ctx context.Context, table string, colDefs []string, width, n int, row func(int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	name := quoteIdent(table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(colDefs, ", "))); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", width), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", name, placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", i, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	s.log.Debug("cache/store: replaced table", "table", table, "rows", n)
	return nil
}

// createIndexes is advisory: a failed index only costs query speed.
func (s *Store) createIndexes(ctx context.Context, lt *coverage.LongTable) {
	long := s.cfg.LongTable
	for _, ix := range []struct{ name, column string }{
		{IndexLocation, lt.Identity.Location},
		{IndexTech, "tech"},
		{IndexAreaType, lt.Identity.AreaType},
	} {
		if ix.column == "" {
			s.log.Warn("cache/store: index skipped, column absent from dataset", "index", ix.name)
			continue
		}
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", quoteIdent(ix.name), quoteIdent(long), quoteIdent(ix.column))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			s.log.Warn("cache/store: failed to create index", "index", ix.name, "error", err)
		}
	}
}

func nullIfBlank(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
