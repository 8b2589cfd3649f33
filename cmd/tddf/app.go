package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rpattn/tddf/internal/config"
	"github.com/rpattn/tddf/internal/db"
	"github.com/rpattn/tddf/internal/ingestion"
	"github.com/rpattn/tddf/internal/logger"
	"github.com/rpattn/tddf/internal/merchants"
	"github.com/rpattn/tddf/internal/monthlycache"
	"github.com/rpattn/tddf/internal/repository"
	"github.com/rpattn/tddf/internal/schema"
)

// app holds state shared by every subcommand. The database pool is opened on
// first use so commands that do not need it run without one.
type app struct {
	configPath string
	verbose    bool

	cfg  config.Config
	log  zerolog.Logger
	conn *db.Connection
}

func (a *app) init(ctx context.Context) (context.Context, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return ctx, err
	}
	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	log, err := logger.Configure(logger.Options{Level: level, Format: cfg.Log.Format, Writer: os.Stderr})
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg
	a.log = log
	return logger.WithContext(ctx, log), nil
}

func (a *app) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.conn != nil {
		return a.conn.Pool, nil
	}
	conn, err := db.NewConnection(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn.Pool, nil
}

func (a *app) close() {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// schemaSource builds the configured layout source.
func (a *app) schemaSource(ctx context.Context) (schema.Source, error) {
	switch a.cfg.Decode.SchemaSource {
	case config.SchemaSourceFile:
		return schema.NewYAMLSource(a.cfg.Decode.SchemaPath), nil
	case config.SchemaSourceTemplate:
		return schema.NewTemplateSource(a.cfg.Decode.SchemaPath), nil
	case config.SchemaSourceDatabase:
		pool, err := a.pool(ctx)
		if err != nil {
			return nil, err
		}
		return schema.NewDatabaseSource(repository.NewFieldSpecRepository(pool)), nil
	default:
		return schema.BuiltinSource{}, nil
	}
}

func (a *app) cacheBuilder(pool *pgxpool.Pool) *monthlycache.Builder {
	return monthlycache.NewBuilder(
		repository.NewMasterRecordRepository(pool),
		repository.NewMonthlyCacheRepository(pool),
		repository.NewCacheRunLogRepository(pool),
		monthlycache.WithStaleRunAfter(a.cfg.Cache.StaleRunAfter),
		monthlycache.WithRebuildOnRead(a.cfg.Cache.RebuildOnRead),
	)
}

// decodeService wires the full decode pipeline: persistence, merchant
// upserts and cache invalidation.
func (a *app) decodeService(ctx context.Context, encoding string) (*ingestion.Service, *monthlycache.Builder, error) {
	pool, err := a.pool(ctx)
	if err != nil {
		return nil, nil, err
	}
	source, err := a.schemaSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	loc, err := a.cfg.Decode.Location()
	if err != nil {
		return nil, nil, err
	}
	if encoding == "" {
		encoding = a.cfg.Decode.Encoding
	}

	builder := a.cacheBuilder(pool)
	upserter := merchants.NewUpserter(repository.NewMerchantRepository(pool), repository.NewTerminalRepository(pool))

	svc := ingestion.NewService(
		schema.NewRegistry(source),
		repository.NewMasterRecordRepository(pool),
		ingestion.WithBatchSize(a.cfg.Decode.BatchSize),
		ingestion.WithSniffLines(a.cfg.Decode.SniffLines),
		ingestion.WithEncoding(encoding),
		ingestion.WithLocation(loc),
		ingestion.WithDecodeRuns(repository.NewDecodeRunRepository(pool)),
		ingestion.WithEntityCollector(func() ingestion.EntityCollector { return upserter.NewCollector() }),
		ingestion.WithMonthInvalidator(builder),
	)
	return svc, builder, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
