package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/jalad-shrimali/coverage-cache/cache"
)

// Sheet is one worksheet; Rows[0] is the header.
type Sheet struct {
	Name string
	Rows [][]any
}

// StatsSheet lays out one row per technology.
func StatsSheet(stats []Stats) Sheet {
	rows := [][]any{{"tech", "count", "mean", "median", "max", "min"}}
	for _, s := range stats {
		rows = append(rows, []any{s.Tech, s.Count, s.Mean, s.Median, s.Max, s.Min})
	}
	return Sheet{Name: "stats", Rows: rows}
}

// TechnologySheet lists the located values of one technology. Missing
// percentages are left blank.
func TechnologySheet(tech string, points []cache.GeoPoint) Sheet {
	rows := [][]any{{"location", "lat", "lon", "pct"}}
	for _, p := range points {
		var pct any
		if p.Pct != nil {
			pct = *p.Pct
		}
		rows = append(rows, []any{p.Location, p.Lat, p.Lon, pct})
	}
	return Sheet{Name: tech, Rows: rows}
}

// WriteWorkbook writes sheets in order to w; the first sheet is active.
func WriteWorkbook(w io.Writer, sheets []Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("report: no sheets")
	}
	x := excelize.NewFile()
	defer x.Close()

	for i, sh := range sheets {
		idx, err := x.NewSheet(sh.Name)
		if err != nil {
			return fmt.Errorf("report: sheet %q: %w", sh.Name, err)
		}
		for r, row := range sh.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := x.SetSheetRow(sh.Name, cell, &row); err != nil {
				return fmt.Errorf("report: sheet %q row %d: %w", sh.Name, r+1, err)
			}
		}
		if i == 0 {
			x.SetActiveSheet(idx)
		}
	}
	if err := x.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	if _, err := x.WriteTo(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}
