// Package ingest reads the raw coverage dataset from a local file, an
// uploaded file or an HTTP(S) URL. Delimited text and Excel workbooks are
// told apart by extension.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/retry"
)

// userAgent is sent with downloads; some open-data portals reject the Go
// default client string.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"

type Config struct {
	Logger *slog.Logger
	// Source is a local path or an http(s) URL.
	Source string
	// Sep is the field delimiter for delimited text. Defaults to ','.
	Sep rune
	// Encoding is a WHATWG encoding label (utf-8, latin1, windows-1252...).
	Encoding string
	// Sheet selects the workbook sheet; the first sheet when empty.
	Sheet      string
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *http.Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Source) == "" {
		return errors.New("source path or url is required")
	}
	return nil
}

// Read loads the dataset named by cfg.Source.
func Read(ctx context.Context, cfg Config) (*dataset.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &IngestionError{Source: cfg.Source, Err: err}
	}
	src := strings.TrimSpace(cfg.Source)
	opts := Options{Sep: cfg.Sep, Encoding: cfg.Encoding, Sheet: cfg.Sheet}

	if isURL(src) {
		body, err := fetch(ctx, cfg, src)
		if err != nil {
			return nil, &IngestionError{Source: src, Err: err}
		}
		u, _ := url.Parse(src)
		t, err := Parse(bytes.NewReader(body), u.Path, opts)
		if err != nil {
			return nil, &IngestionError{Source: src, Err: err}
		}
		cfg.Logger.Info("ingest: downloaded dataset", "source", src, "bytes", len(body), "rows", t.Len(), "columns", len(t.Columns))
		return t, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, &IngestionError{Source: src, Err: err}
	}
	defer f.Close()
	t, err := Parse(f, src, opts)
	if err != nil {
		return nil, &IngestionError{Source: src, Err: err}
	}
	cfg.Logger.Info("ingest: loaded dataset", "source", src, "rows", t.Len(), "columns", len(t.Columns))
	return t, nil
}

// Options controls how Parse decodes a file.
type Options struct {
	Sep      rune
	Encoding string
	Sheet    string
}

// Parse decodes r as a workbook or delimited text depending on the
// extension of name.
func Parse(r io.Reader, name string, opts Options) (*dataset.Table, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts.Sheet)
	case ".xls":
		return nil, errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")
	default:
		return ReadCSV(r, opts.Sep, opts.Encoding)
	}
}

// ReadCSV parses delimited text. The first record is the header.
func ReadCSV(r io.Reader, sep rune, enc string) (*dataset.Table, error) {
	dec, err := decoder(enc)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(transform.NewReader(r, dec.NewDecoder()))
	if sep != 0 {
		cr.Comma = sep
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("no header found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}
	return dataset.New(header, rows), nil
}

func decoder(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return unicode.UTF8BOM, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	return enc, nil
}

// ReadXLSX parses one sheet of a workbook. Cells are read unformatted so
// that percentages stored as fractions keep their raw value.
func ReadXLSX(r io.Reader, sheet string) (*dataset.Table, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer x.Close()

	if sheet == "" {
		sheets := x.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := x.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	// GetRows drops trailing empty cells, so the header may be narrower
	// than the widest data row.
	header := rows[0]
	for _, row := range rows[1:] {
		for len(header) < len(row) {
			header = append(header, "")
		}
	}
	return dataset.New(header, rows[1:]), nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func fetch(ctx context.Context, cfg Config, src string) ([]byte, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}

	var body []byte
	attempt := 0
	err := retry.Do(ctx, rc, func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := client.Do(req)
		if err != nil {
			cfg.Logger.Warn("ingest: download failed", "source", src, "attempt", attempt, "error", err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			cfg.Logger.Warn("ingest: download failed", "source", src, "attempt", attempt, "status", resp.Status)
			return &retry.StatusError{Code: resp.StatusCode, Status: resp.Status}
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}
