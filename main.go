package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/jalad-shrimali/coverage-cache/cache"
	"github.com/jalad-shrimali/coverage-cache/coverage"
	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/handlers"
	"github.com/jalad-shrimali/coverage-cache/ingest"
	"github.com/jalad-shrimali/coverage-cache/logger"
	"github.com/jalad-shrimali/coverage-cache/metrics"
	"github.com/jalad-shrimali/coverage-cache/retry"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	envErr := godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Source dataset
	sourceFlag := flag.String("source", "", "dataset path or http(s) url, .csv or .xlsx (or set COVERAGE_SOURCE env var)")
	sepFlag := flag.String("sep", ",", "field delimiter for delimited text")
	encodingFlag := flag.String("encoding", "utf-8", "text encoding of the dataset (utf-8, latin1, windows-1252...)")
	sheetFlag := flag.String("sheet", "", "workbook sheet to read (default: first sheet)")
	fetchTimeoutFlag := flag.Duration("fetch-timeout", 2*time.Minute, "timeout for downloading a remote dataset")

	// Cache
	dbPathFlag := flag.String("db-path", cache.DefaultPath, "sqlite database path (or set COVERAGE_DB_PATH env var)")
	dbDriverFlag := flag.String("db-driver", cache.DriverCGO, "sqlite driver: sqlite3 (cgo) or sqlite (pure Go) (or set COVERAGE_DB_DRIVER env var)")
	techsFlag := flag.StringSlice("techs", coverage.DefaultTechnologies, "technologies to extract")
	rebuildFlag := flag.Bool("rebuild", false, "rebuild the cache even if it is populated (or set COVERAGE_REBUILD=true env var)")

	// Server
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set COVERAGE_LISTEN_ADDR env var)")
	uploadDirFlag := flag.String("upload-dir", "uploads", "directory for uploaded datasets")
	buildOnlyFlag := flag.Bool("build-only", false, "build the cache and exit without serving")

	flag.Parse()

	log := logger.New(*verboseFlag)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn("failed to load .env", "error", envErr)
	}

	// Override flags with environment variables if set
	if env := os.Getenv("COVERAGE_SOURCE"); env != "" {
		*sourceFlag = env
	}
	if env := os.Getenv("COVERAGE_DB_PATH"); env != "" {
		*dbPathFlag = env
	}
	if env := os.Getenv("COVERAGE_DB_DRIVER"); env != "" {
		*dbDriverFlag = env
	}
	if env := os.Getenv("COVERAGE_LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	if os.Getenv("COVERAGE_REBUILD") == "true" {
		*rebuildFlag = true
	}

	sep, size := utf8.DecodeRuneInString(*sepFlag)
	if size == 0 || size != len(*sepFlag) {
		return fmt.Errorf("--sep must be a single character, got %q", *sepFlag)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("coverage-cache starting", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.Open(ctx, cache.StoreConfig{
		Logger:       log,
		Path:         *dbPathFlag,
		Driver:       *dbDriverFlag,
		Technologies: *techsFlag,
		Identity:     coverage.DefaultIdentity(),
	})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	ingestCfg := ingest.Config{
		Logger:   log,
		Source:   *sourceFlag,
		Sep:      sep,
		Encoding: *encodingFlag,
		Sheet:    *sheetFlag,
		Timeout:  *fetchTimeoutFlag,
		Retry:    retry.DefaultConfig(),
	}
	if err := populate(ctx, store, ingestCfg, *rebuildFlag); err != nil {
		return err
	}
	if *buildOnlyFlag {
		return nil
	}

	h, err := handlers.New(handlers.Config{
		Logger:    log,
		Store:     store,
		Ingest:    ingestCfg,
		UploadDir: *uploadDirFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	srv, err := NewServer(log, ServerConfig{ListenAddr: *listenAddrFlag, Handler: h.Routes()})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

// populate loads the source into the cache unless it is already populated
// and no rebuild was asked for.
func populate(ctx context.Context, store *cache.Store, cfg ingest.Config, rebuild bool) error {
	if strings.TrimSpace(cfg.Source) == "" {
		if n, err := store.Count(ctx); err != nil || n == 0 {
			cfg.Logger.Warn("no source configured and cache is empty; upload a dataset to POST /api/rebuild")
		}
		return nil
	}
	if !rebuild {
		if n, err := store.Count(ctx); err == nil && n > 0 {
			cfg.Logger.Info("cache already populated, skipping ingestion", "rows", n)
			return nil
		}
	}

	t, err := ingest.Read(ctx, cfg)
	if err != nil {
		return err
	}
	cleaned := dataset.Clean(t)
	cfg.Logger.Info("dataset cleaned", "duplicate_rows", cleaned.DuplicateRows,
		"decimal_comma_columns", strings.Join(cleaned.DecimalCommaColumns, ","))

	res, err := store.Build(ctx, t, rebuild)
	if err != nil {
		var schemaErr *coverage.SchemaError
		if errors.As(err, &schemaErr) {
			cfg.Logger.Error("dataset has no coverage columns; fix the source and restart with --rebuild",
				"source", cfg.Source, "technologies", strings.Join(schemaErr.Technologies, ","))
		}
		return fmt.Errorf("failed to build cache: %w", err)
	}
	cfg.Logger.Info("cache ready", "skipped", res.Skipped, "long_rows", res.LongRows, "duration", res.Duration)
	return nil
}
