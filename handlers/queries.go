package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/jalad-shrimali/coverage-cache/cache"
	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/geo"
	"github.com/jalad-shrimali/coverage-cache/report"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 1000
)

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.cfg.Store.DistinctLocations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) handleTechnologyValues(w http.ResponseWriter, r *http.Request) {
	vals, err := h.cfg.Store.ValuesByTechnology(r.Context(), chi.URLParam(r, "tech"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vals)
}

type mapResponse struct {
	Points any          `json:"points"`
	Bounds *geo.Bounds  `json:"bounds"`
	Centre *centreQuery `json:"centre,omitempty"`
}

type centreQuery struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radius_km"`
}

func (h *Handler) handleMap(w http.ResponseWriter, r *http.Request) {
	centre, err := parseCentre(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pts, err := h.cfg.Store.GeoByTechnology(r.Context(), chi.URLParam(r, "tech"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := mapResponse{Points: pts, Centre: centre}
	if centre != nil {
		near := geo.Within(pts, centre.Lat, centre.Lon, centre.RadiusKm)
		resp.Points = near
		pts = make([]cache.GeoPoint, len(near))
		for i, p := range near {
			pts[i] = p.GeoPoint
		}
	}
	if b, ok := geo.BoundsOf(pts); ok {
		resp.Bounds = &b
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseCentre reads the optional lat, lon and radius_km parameters; they
// must be given together.
func parseCentre(r *http.Request) (*centreQuery, error) {
	q := r.URL.Query()
	raw := []string{q.Get("lat"), q.Get("lon"), q.Get("radius_km")}
	if raw[0] == "" && raw[1] == "" && raw[2] == "" {
		return nil, nil
	}
	var vals [3]float64
	for i, name := range []string{"lat", "lon", "radius_km"} {
		if raw[i] == "" {
			return nil, errBadParam("lat, lon and radius_km must be given together")
		}
		f, err := strconv.ParseFloat(raw[i], 64)
		if err != nil {
			return nil, errBadParam("invalid " + name)
		}
		vals[i] = f
	}
	if !geo.ValidCoordinate(vals[0], vals[1]) {
		return nil, errBadParam("coordinates out of range")
	}
	if vals[2] < 0 {
		return nil, errBadParam("radius_km must not be negative")
	}
	return &centreQuery{Lat: vals[0], Lon: vals[1], RadiusKm: vals[2]}, nil
}

type errBadParam string

func (e errBadParam) Error() string { return string(e) }

// technologyStats reads every configured technology concurrently and drops
// the ones without values.
func (h *Handler) technologyStats(r *http.Request) ([]report.Stats, error) {
	techs := h.cfg.Store.Config().Technologies
	results := make([]*report.Stats, len(techs))

	g, ctx := errgroup.WithContext(r.Context())
	for i, tech := range techs {
		g.Go(func() error {
			vals, err := h.cfg.Store.ValuesByTechnology(ctx, tech)
			if err != nil {
				return err
			}
			if s, ok := report.Summarize(tech, vals); ok {
				results[i] = &s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]report.Stats, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.technologyStats(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var locs []string
	for _, l := range q["location"] {
		if l = strings.TrimSpace(l); l != "" {
			locs = append(locs, l)
		}
	}
	if len(locs) == 0 {
		writeBadRequest(w, "at least one location is required")
		return
	}

	_, aggregate := q["metric"]
	if len(locs) == 1 && !aggregate {
		vals, err := h.cfg.Store.ValuesByLocation(r.Context(), locs[0])
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, vals)
		return
	}

	metric, err := report.ParseMetric(q.Get("metric"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	vals, err := h.cfg.Store.ValuesByLocations(r.Context(), locs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !aggregate {
		writeJSON(w, http.StatusOK, vals)
		return
	}
	writeJSON(w, http.StatusOK, report.AggregateByTechnology(vals, metric))
}

type auditResponse struct {
	Columns []string                `json:"columns"`
	Rows    [][]string              `json:"rows"`
	Profile []dataset.ColumnProfile `json:"profile"`
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	t, err := h.cfg.Store.RawPreview(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows := t.Rows
	if rows == nil {
		rows = [][]string{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Columns: t.Columns, Rows: rows, Profile: dataset.Profile(t)})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	stats, err := h.technologyStats(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sheets := []report.Sheet{report.StatsSheet(stats)}
	for _, s := range stats {
		pts, err := h.cfg.Store.GeoByTechnology(r.Context(), s.Tech)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		sheets = append(sheets, report.TechnologySheet(s.Tech, pts))
	}

	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, sheets); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="coverage_report.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}
