package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/time/rate"

	"github.com/jalad-shrimali/coverage-cache/cache"
	"github.com/jalad-shrimali/coverage-cache/coverage"
	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/report"
	"github.com/jalad-shrimali/coverage-cache/testutil"
)

type fixture struct {
	store   *cache.Store
	handler http.Handler
	dir     string
}

func newFixture(t *testing.T, build bool, limiter *RateLimiter) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open(t.Context(), cache.StoreConfig{
		Logger:   testutil.NewLogger(),
		Path:     filepath.Join(dir, "coverage.db"),
		Driver:   cache.DriverPure,
		Identity: coverage.DefaultIdentity(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if build {
		tbl := dataset.New(
			[]string{"CentroPoblado", "Latitud", "Longitud", "Ambito", "ENTEL_2G_CG", "CLARO_2G_CG", "ENTEL_4G_CG"},
			[][]string{
				{"Lima", "-12.0464", "-77.0428", "URBANO", "80", "60", "95"},
				{"Callao", "-12.0566", "-77.1181", "URBANO", "70", "", "90"},
				{"Ica", "-14.0678", "-75.7286", "URBANO", "50", "40", ""},
				{"Puno", "", "", "RURAL", "", "30", ""},
			},
		)
		_, err := store.Build(t.Context(), tbl, false)
		require.NoError(t, err)
	}

	h, err := New(Config{
		Logger:         testutil.NewLogger(),
		Store:          store,
		UploadDir:      filepath.Join(dir, "uploads"),
		RebuildLimiter: limiter,
	})
	require.NoError(t, err)
	return &fixture{store: store, handler: h.Routes(), dir: dir}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, url, nil))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func uploadRequest(t *testing.T, name, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/rebuild", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCoverage_Handlers_Queries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, nil)

	t.Run("locations", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/locations")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, []string{"Callao", "Ica", "Lima", "Puno"}, decode[[]string](t, rec))
	})

	t.Run("technology values", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/technologies/4g/values")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]cache.TechnologyValue](t, rec), 4)
	})

	t.Run("stats omit technologies without values", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/technologies/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[[]report.Stats](t, rec)
		require.Len(t, stats, 2)
		require.Equal(t, report.Stats{Tech: "2G", Count: 4, Mean: 57.5, Median: 60, Max: 80, Min: 30}, stats[0])
		require.Equal(t, "4G", stats[1].Tech)
		require.Equal(t, 2, stats[1].Count)
	})

	t.Run("map", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/technologies/2G/map")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[struct {
			Points []cache.GeoPoint `json:"points"`
			Bounds *struct {
				MinLat float64 `json:"min_lat"`
				Points int     `json:"points"`
			} `json:"bounds"`
		}](t, rec)
		require.Len(t, resp.Points, 3)
		require.NotNil(t, resp.Bounds)
		require.Equal(t, 3, resp.Bounds.Points)
		require.InDelta(t, -14.0678, resp.Bounds.MinLat, 1e-9)
	})

	t.Run("map within radius", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/technologies/2G/map?lat=-12.0464&lon=-77.0428&radius_km=20")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[struct {
			Points []struct {
				Location   string  `json:"location"`
				DistanceKm float64 `json:"distance_km"`
			} `json:"points"`
		}](t, rec)
		require.Len(t, resp.Points, 2)
		require.Equal(t, "Lima", resp.Points[0].Location)
		require.Equal(t, "Callao", resp.Points[1].Location)
	})

	t.Run("map rejects partial centre", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/technologies/2G/map?lat=-12")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("values by one location", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/values?location=Puno")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]cache.LocationValue](t, rec), 2)
	})

	t.Run("values by many locations", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/values?location=Lima&location=Ica")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]cache.LocationsValue](t, rec), 4)
	})

	t.Run("values aggregated by metric", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/values?location=Lima&location=Ica&metric=max")
		require.Equal(t, http.StatusOK, rec.Code)
		aggs := decode[[]report.Aggregate](t, rec)
		require.Len(t, aggs, 2)
		require.Equal(t, "2G", aggs[0].Tech)
		require.Equal(t, 80.0, *aggs[0].Value)
		require.Equal(t, 95.0, *aggs[1].Value)
	})

	t.Run("values validation", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, http.StatusBadRequest, f.get(t, "/api/values").Code)
		require.Equal(t, http.StatusBadRequest, f.get(t, "/api/values?location=Lima&metric=mode").Code)
	})

	t.Run("audit", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/audit?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[auditResponse](t, rec)
		require.Len(t, resp.Rows, 2)
		require.Len(t, resp.Columns, 7)
		require.Len(t, resp.Profile, 7)
		require.Equal(t, http.StatusBadRequest, f.get(t, "/api/audit?limit=x").Code)
	})

	t.Run("report workbook", func(t *testing.T) {
		t.Parallel()
		rec := f.get(t, "/api/report.xlsx")
		require.Equal(t, http.StatusOK, rec.Code)
		x, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		defer x.Close()
		require.Equal(t, []string{"stats", "2G", "4G"}, x.GetSheetList())
	})

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, http.StatusOK, f.get(t, "/healthz").Code)
	})
}

func TestCoverage_Handlers_QueryBeforeBuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, nil)
	rec := f.get(t, "/api/locations")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decode[errorResponse](t, rec).Error, "distinct_locations")
}

func TestCoverage_Handlers_Rebuild(t *testing.T) {
	t.Parallel()

	t.Run("upload replaces cache", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, true, nil)

		csv := "CentroPoblado;X_3G_CG\nTacna;0.4\nTumbes;0.6\n"
		rec := f.do(t, uploadRequest(t, "nuevo.csv", csv, map[string]string{"sep": ";"}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[rebuildResponse](t, rec)
		require.Equal(t, 2, resp.LongRows)
		require.Equal(t, []string{"3G"}, resp.Technologies)

		// uploads are removed once parsed
		matches, err := filepath.Glob(filepath.Join(f.dir, "uploads", "*"))
		require.NoError(t, err)
		require.Empty(t, matches)

		rec = f.get(t, "/api/locations")
		require.Equal(t, []string{"Tacna", "Tumbes"}, decode[[]string](t, rec))
	})

	t.Run("upload is cleaned before build", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, nil)

		csv := "CentroPoblado;ENTEL_4G_CG\nLima;45,5\nLima;45,5\nIca;60\n"
		rec := f.do(t, uploadRequest(t, "coma.csv", csv, map[string]string{"sep": ";"}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, 2, decode[rebuildResponse](t, rec).LongRows)

		rec = f.get(t, "/api/values?location=Lima")
		vals := decode[[]cache.LocationValue](t, rec)
		require.Len(t, vals, 1)
		require.NotNil(t, vals[0].Pct)
		require.InDelta(t, 45.5, *vals[0].Pct, 1e-9)
	})

	t.Run("failed upload leaves nothing behind", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, nil)
		rec := f.do(t, uploadRequest(t, "old.xls", "not a workbook", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		matches, err := filepath.Glob(filepath.Join(f.dir, "uploads", "*"))
		require.NoError(t, err)
		require.Empty(t, matches)
	})

	t.Run("schema error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, nil)
		rec := f.do(t, uploadRequest(t, "bad.csv", "CentroPoblado,Poblacion\nLima,10\n", nil))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("ingestion error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, nil)
		rec := f.do(t, uploadRequest(t, "old.xls", "not a workbook", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no file and no source", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, nil)
		rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/rebuild", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, false, NewRateLimiter(rate.Every(time.Hour), 1))
		csv := "CentroPoblado,X_4G_CG\nLima,90\n"

		rec := f.do(t, uploadRequest(t, "a.csv", csv, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = f.do(t, uploadRequest(t, "a.csv", csv, nil))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}

func TestCoverage_Handlers_RateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(rate.Every(time.Hour), 2)
	ok, _ := rl.AllowWithRetry("10.0.0.1")
	require.True(t, ok)
	ok, _ = rl.AllowWithRetry("10.0.0.1")
	require.True(t, ok)
	ok, wait := rl.AllowWithRetry("10.0.0.1")
	require.False(t, ok)
	require.Greater(t, wait, time.Duration(0))

	ok, _ = rl.AllowWithRetry("10.0.0.2")
	require.True(t, ok)
}
