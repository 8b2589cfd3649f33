// Package ingestion decodes TDDF uploads into master records and drives the
// post-load stages (deduplication, merchant upsert, cache invalidation).
package ingestion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpattn/tddf/internal/decoder"
	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/logger"
	"github.com/rpattn/tddf/internal/repository"
	"github.com/rpattn/tddf/internal/schema"
)

const (
	defaultBatchSize  = 1000
	defaultSniffLines = 1000
	maxSampleErrors   = 20
	maxLineBytes      = 1024 * 1024
	maxErrorMessage   = 512
)

// SchemaLoader freezes a schema snapshot for one run.
type SchemaLoader interface {
	Load(ctx context.Context) (*schema.Snapshot, error)
}

// EntityCollector accumulates clean detail records for one run and upserts
// the derived merchants and terminals on Flush.
type EntityCollector interface {
	Add(record domain.DecodedRecord)
	Flush(ctx context.Context) (domain.UpsertStats, error)
}

// MonthInvalidator expires cached months touched by new records.
type MonthInvalidator interface {
	InvalidateMonths(ctx context.Context, dates []time.Time) ([]domain.MonthKey, error)
}

// Service decodes TDDF files.
type Service struct {
	schemas     SchemaLoader
	records     repository.MasterRecordRepository
	runs        repository.DecodeRunRepository
	entities    func() EntityCollector
	invalidator MonthInvalidator
	batchSize   int
	sniffLines  int
	encoding    string
	location    *time.Location
	now         func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithBatchSize sets how many rows are committed per transaction.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSniffLines bounds how many lines may pass without a classifiable record
// before the file is rejected as not financial data.
func WithSniffLines(lines int) Option {
	return func(s *Service) {
		if lines > 0 {
			s.sniffLines = lines
		}
	}
}

// WithEncoding selects the input character set.
func WithEncoding(name string) Option {
	return func(s *Service) { s.encoding = name }
}

// WithLocation sets the zone record dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDecodeRuns records a decode_runs row per call.
func WithDecodeRuns(runs repository.DecodeRunRepository) Option {
	return func(s *Service) { s.runs = runs }
}

// WithEntityCollector installs the per-run merchant/terminal collector factory.
func WithEntityCollector(factory func() EntityCollector) Option {
	return func(s *Service) { s.entities = factory }
}

// WithMonthInvalidator installs the monthly cache invalidation hook.
func WithMonthInvalidator(invalidator MonthInvalidator) Option {
	return func(s *Service) { s.invalidator = invalidator }
}

// NewService creates a decode service.
func NewService(schemas SchemaLoader, records repository.MasterRecordRepository, opts ...Option) *Service {
	s := &Service{
		schemas:    schemas,
		records:    records,
		batchSize:  defaultBatchSize,
		sniffLines: defaultSniffLines,
		location:   time.UTC,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one upload to decode.
type Request struct {
	UploadID string
	Filename string
	Data     io.Reader
}

// Summary reports what a decode run did. It is populated as far as the run
// got, including when DecodeFile returns an error.
type Summary struct {
	RunID             uuid.UUID                      `json:"runId"`
	UploadID          string                         `json:"uploadId"`
	Filename          string                         `json:"filename"`
	TotalLines        int                            `json:"totalLines"`
	DecodedCount      int                            `json:"decodedCount"`
	ErrorCount        int                            `json:"errorCount"`
	WarningCount      int                            `json:"warningCount"`
	RecordTypeCounts  map[string]int                 `json:"recordTypeCounts"`
	TimestampSources  map[domain.TimestampSource]int `json:"timestampSources"`
	SampleErrors      []string                       `json:"sampleErrors"`
	RowsPersisted     int64                          `json:"rowsPersisted"`
	BatchesCommitted  int                            `json:"batchesCommitted"`
	Duplicates        domain.DuplicateStats          `json:"duplicates"`
	Entities          domain.UpsertStats             `json:"entities"`
	MonthsInvalidated []string                       `json:"monthsInvalidated"`
	SchemaWarnings    []string                       `json:"schemaWarnings,omitempty"`
}

func newSummary(req Request) Summary {
	return Summary{
		UploadID:          req.UploadID,
		Filename:          req.Filename,
		RecordTypeCounts:  map[string]int{},
		TimestampSources:  map[domain.TimestampSource]int{},
		SampleErrors:      []string{},
		MonthsInvalidated: []string{},
	}
}

func (s *Summary) tally(record domain.DecodedRecord, source domain.TimestampSource) {
	s.TotalLines++
	s.RecordTypeCounts[record.RecordType]++
	s.TimestampSources[source]++
	s.WarningCount += len(record.Warnings)
	if !record.HasErrors() {
		s.DecodedCount++
		return
	}
	s.ErrorCount++
	for _, msg := range record.Errors {
		if len(s.SampleErrors) >= maxSampleErrors {
			break
		}
		if !strings.HasPrefix(msg, "line ") {
			msg = fmt.Sprintf("line %d: %s", record.LineNumber, msg)
		}
		s.SampleErrors = append(s.SampleErrors, msg)
	}
}

// run holds the mutable state of one DecodeFile call.
type run struct {
	req        Request
	summary    *Summary
	decoder    *decoder.Decoder
	resolver   *decoder.TimestampResolver
	file       decoder.FileContext
	entities   EntityCollector
	pending    []domain.MasterRecord
	dates      map[time.Time]struct{}
	classified bool
}

// DecodeFile decodes an upload line by line, persisting rows in batches. Row
// problems are counted in the summary; only file-level failures return an error.
func (s *Service) DecodeFile(ctx context.Context, req Request) (Summary, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		req.UploadID = uuid.NewString()
	}
	summary := newSummary(req)

	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	if s.records == nil {
		return summary, errors.New("master record repository is required")
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]any{
		"upload_id": req.UploadID,
		"file":      req.Filename,
	})
	ctx = logger.WithContext(ctx, log)

	decodeRun := s.startRun(ctx, req)
	summary.RunID = decodeRun.ID

	err := s.decode(ctx, req, &summary)
	s.finishRun(ctx, decodeRun, summary, err)

	if err != nil {
		log.Error().Err(err).Int("total_lines", summary.TotalLines).Msg("decode failed")
		return summary, err
	}
	log.Info().
		Int("total_lines", summary.TotalLines).
		Int("decoded", summary.DecodedCount).
		Int("errors", summary.ErrorCount).
		Int64("duplicates_removed", summary.Duplicates.RowsRemoved).
		Msg("decode completed")
	return summary, nil
}

func (s *Service) decode(ctx context.Context, req Request, summary *Summary) error {
	log := logger.FromContext(ctx)

	snapshot, err := s.schemas.Load(ctx)
	if err != nil {
		return err
	}
	summary.SchemaWarnings = snapshot.Warnings()
	for _, warning := range summary.SchemaWarnings {
		log.Warn().Str("schema_source", snapshot.Source()).Msg(warning)
	}

	input, err := DecodingReader(req.Data, s.encoding)
	if err != nil {
		return err
	}

	r := &run{
		req:      req,
		summary:  summary,
		decoder:  decoder.New(snapshot),
		resolver: decoder.NewTimestampResolver(s.location, decoder.WithClock(s.now)),
		dates:    map[time.Time]struct{}{},
		pending:  make([]domain.MasterRecord, 0, s.batchSize),
	}
	if meta, ok := decoder.ParseFilename(req.Filename, s.location); ok {
		r.file.Filename = &meta
	}
	if s.entities != nil {
		r.entities = s.entities()
	}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanRecordLines)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		s.decodeLine(r, lineNumber, line)

		if !r.classified && summary.TotalLines >= s.sniffLines {
			return fmt.Errorf("%w: no record type found in the first %d lines", domain.ErrNotFinancialData, summary.TotalLines)
		}
		if len(r.pending) >= s.batchSize {
			if !r.classified {
				return fmt.Errorf("%w: no record type found in the first %d lines", domain.ErrNotFinancialData, summary.TotalLines)
			}
			if err := s.flush(ctx, r); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read upload at line %d: %w", lineNumber+1, err)
	}
	if !r.classified {
		return fmt.Errorf("%w: %d lines read", domain.ErrNotFinancialData, summary.TotalLines)
	}
	if err := s.flush(ctx, r); err != nil {
		return err
	}

	return s.afterLoad(ctx, r)
}

func (s *Service) decodeLine(r *run, lineNumber int, line string) {
	record := r.decoder.Decode(lineNumber, line)
	if decoder.Classified(record) {
		r.classified = true
	}

	if header, ok := decoder.View(record).(decoder.BatchHeader); ok && header.BatchDate != nil {
		batchDate := *header.BatchDate
		r.file.BatchDate = &batchDate
	}

	resolution := r.resolver.Resolve(record, r.file)
	r.summary.tally(record, resolution.Source)

	if r.entities != nil && record.Kind == domain.KindDetail && !record.HasErrors() {
		r.entities.Add(record)
	}

	businessDate := resolution.BusinessDate()
	if !record.HasErrors() {
		r.dates[businessDate] = struct{}{}
	}

	r.pending = append(r.pending, domain.MasterRecord{
		UploadID:          r.req.UploadID,
		Filename:          r.req.Filename,
		LineNumber:        record.LineNumber,
		RecordType:        record.RecordType,
		RawLine:           record.RawLine,
		RawLineHash:       record.RawLineHash,
		ExtractedFields:   record.Fields,
		Errors:            record.Errors,
		ResolvedTimestamp: resolution.Timestamp,
		TimestampSource:   resolution.Source,
		BusinessDate:      businessDate,
	})
}

func (s *Service) flush(ctx context.Context, r *run) error {
	if len(r.pending) == 0 {
		return nil
	}
	first := r.pending[0].LineNumber
	written, err := s.records.InsertBatch(ctx, r.pending)
	if err != nil {
		return fmt.Errorf("batch %d starting at line %d: %w", r.summary.BatchesCommitted+1, first, err)
	}
	r.summary.RowsPersisted += written
	r.summary.BatchesCommitted++
	log := logger.FromContext(ctx)
	log.Debug().
		Int("batch", r.summary.BatchesCommitted).
		Int64("rows", written).
		Msg("batch committed")
	r.pending = r.pending[:0]
	return nil
}

func (s *Service) afterLoad(ctx context.Context, r *run) error {
	stats, err := s.records.DeleteDuplicates(ctx, r.req.UploadID)
	if err != nil {
		return fmt.Errorf("failed to remove duplicates: %w", err)
	}
	r.summary.Duplicates = stats

	if r.entities != nil {
		upserted, err := r.entities.Flush(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert merchants and terminals: %w", err)
		}
		r.summary.Entities = upserted
	}

	if s.invalidator != nil && len(r.dates) > 0 {
		dates := make([]time.Time, 0, len(r.dates))
		for date := range r.dates {
			dates = append(dates, date)
		}
		months, err := s.invalidator.InvalidateMonths(ctx, dates)
		if err != nil {
			return fmt.Errorf("failed to invalidate monthly cache: %w", err)
		}
		for _, month := range months {
			r.summary.MonthsInvalidated = append(r.summary.MonthsInvalidated, month.String())
		}
	}
	return nil
}

func (s *Service) startRun(ctx context.Context, req Request) domain.DecodeRun {
	decodeRun := domain.DecodeRun{
		ID:        uuid.New(),
		UploadID:  req.UploadID,
		FileName:  req.Filename,
		Status:    domain.DecodeRunRunning,
		StartedAt: s.now(),
	}
	if s.runs == nil {
		return decodeRun
	}
	if err := s.runs.Create(ctx, decodeRun); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("failed to record decode run start")
	}
	return decodeRun
}

func (s *Service) finishRun(ctx context.Context, decodeRun domain.DecodeRun, summary Summary, runErr error) {
	if s.runs == nil {
		return
	}
	completedAt := s.now()
	decodeRun.CompletedAt = &completedAt
	decodeRun.TotalLines = summary.TotalLines
	decodeRun.DecodedCount = summary.DecodedCount
	decodeRun.ErrorCount = summary.ErrorCount
	decodeRun.DuplicatesRemoved = summary.Duplicates.RowsRemoved
	decodeRun.RecordTypeCounts = summary.RecordTypeCounts
	decodeRun.Status = domain.DecodeRunCompleted
	if runErr != nil {
		decodeRun.Status = domain.DecodeRunFailed
		decodeRun.ErrorMessage = truncateError(runErr.Error())
	}
	if err := s.runs.Complete(ctx, decodeRun); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("failed to record decode run completion")
	}
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	return msg[:maxErrorMessage]
}
