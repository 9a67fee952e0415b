package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/ingest"
)

type rebuildResponse struct {
	Source       string   `json:"source"`
	RawRows      int      `json:"raw_rows"`
	LongRows     int      `json:"long_rows"`
	Technologies []string `json:"technologies"`
	DurationMs   int64    `json:"duration_ms"`
}

// handleRebuild replaces the cache with an uploaded dataset, or with the
// configured source when no file is posted.
func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	var (
		t   *dataset.Table
		src string
		err error
	)
	file, hdr, ferr := r.FormFile("file")
	switch {
	case ferr == nil:
		defer file.Close()
		opts := ingest.Options{Encoding: h.cfg.Ingest.Encoding, Sheet: h.cfg.Ingest.Sheet, Sep: h.cfg.Ingest.Sep}
		if s := r.FormValue("sep"); s != "" {
			sep, size := utf8.DecodeRuneInString(s)
			if size != len(s) {
				writeBadRequest(w, "sep must be a single character")
				return
			}
			opts.Sep = sep
		}
		var saved string
		saved, err = h.saveUpload(file, hdr.Filename)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		src = hdr.Filename
		t, err = parseFile(saved, opts)
		h.removeUpload(saved)
	case errors.Is(ferr, http.ErrMissingFile), errors.Is(ferr, http.ErrNotMultipart):
		if h.cfg.Ingest.Source == "" {
			writeBadRequest(w, "no file uploaded and no source configured")
			return
		}
		src = h.cfg.Ingest.Source
		t, err = ingest.Read(r.Context(), h.cfg.Ingest)
	default:
		writeBadRequest(w, ferr.Error())
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cleaned := dataset.Clean(t)
	h.log.Debug("handlers: dataset cleaned", "source", src, "duplicate_rows", cleaned.DuplicateRows)

	res, err := h.cfg.Store.Build(r.Context(), t, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("handlers: cache rebuilt", "source", src, "long_rows", res.LongRows)
	writeJSON(w, http.StatusOK, rebuildResponse{
		Source:       src,
		RawRows:      res.RawRows,
		LongRows:     res.LongRows,
		Technologies: res.Technologies,
		DurationMs:   res.Duration.Milliseconds(),
	})
}

// saveUpload stores the upload under a unique name so concurrent uploads
// of the same file never collide. The caller removes it after parsing.
func (h *Handler) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(h.cfg.UploadDir, uuid.NewString()+"-"+filepath.Base(name))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		h.removeUpload(dst)
		return "", &ingest.IngestionError{Source: name, Err: err}
	}
	return dst, nil
}

// removeUpload deletes a saved upload once it has been parsed.
func (h *Handler) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn("handlers: failed to remove upload", "path", path, "error", err)
	}
}

func parseFile(path string, opts ingest.Options) (*dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ingest.IngestionError{Source: path, Err: err}
	}
	defer f.Close()
	t, err := ingest.Parse(f, path, opts)
	if err != nil {
		return nil, &ingest.IngestionError{Source: path, Err: err}
	}
	return t, nil
}
