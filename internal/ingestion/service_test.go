package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/encoding/charmap"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/repository"
	"github.com/rpattn/tddf/internal/schema"
)

type stubRecordRepo struct {
	batches   [][]domain.MasterRecord
	failBatch int
	dupStats  domain.DuplicateStats
	dedupeFor []string
}

var _ repository.MasterRecordRepository = (*stubRecordRepo)(nil)

func (s *stubRecordRepo) InsertBatch(_ context.Context, records []domain.MasterRecord) (int64, error) {
	if s.failBatch > 0 && len(s.batches)+1 == s.failBatch {
		return 0, errors.New("connection reset")
	}
	batch := append([]domain.MasterRecord(nil), records...)
	s.batches = append(s.batches, batch)
	return int64(len(batch)), nil
}

func (s *stubRecordRepo) DeleteDuplicates(_ context.Context, uploadID string) (domain.DuplicateStats, error) {
	s.dedupeFor = append(s.dedupeFor, uploadID)
	return s.dupStats, nil
}

func (s *stubRecordRepo) ScanMonth(context.Context, domain.MonthKey, func(domain.CacheSourceRow) error) (int64, error) {
	return 0, nil
}

func (s *stubRecordRepo) CountByUpload(context.Context, string) (int64, error) {
	return int64(len(s.all())), nil
}

func (s *stubRecordRepo) all() []domain.MasterRecord {
	var out []domain.MasterRecord
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

type stubRunRepo struct {
	created   []domain.DecodeRun
	completed []domain.DecodeRun
}

var _ repository.DecodeRunRepository = (*stubRunRepo)(nil)

func (s *stubRunRepo) Create(_ context.Context, run domain.DecodeRun) error {
	s.created = append(s.created, run)
	return nil
}

func (s *stubRunRepo) Complete(_ context.Context, run domain.DecodeRun) error {
	s.completed = append(s.completed, run)
	return nil
}

func (s *stubRunRepo) ListRecent(context.Context, int) ([]domain.DecodeRun, error) {
	return s.completed, nil
}

type stubCollector struct {
	added   []domain.DecodedRecord
	flushed bool
}

func (c *stubCollector) Add(record domain.DecodedRecord) { c.added = append(c.added, record) }

func (c *stubCollector) Flush(context.Context) (domain.UpsertStats, error) {
	c.flushed = true
	return domain.UpsertStats{MerchantsCreated: len(c.added)}, nil
}

type stubInvalidator struct {
	dates []time.Time
}

func (s *stubInvalidator) InvalidateMonths(_ context.Context, dates []time.Time) ([]domain.MonthKey, error) {
	s.dates = append(s.dates, dates...)
	seen := map[domain.MonthKey]bool{}
	var months []domain.MonthKey
	for _, date := range dates {
		month := domain.MonthOf(date)
		if !seen[month] {
			seen[month] = true
			months = append(months, month)
		}
	}
	return months, nil
}

type failingLoader struct{}

func (failingLoader) Load(context.Context) (*schema.Snapshot, error) {
	return nil, fmt.Errorf("%w: no layouts", domain.ErrSchemaUnavailable)
}

func builtinRegistry() *schema.Registry {
	return schema.NewRegistry(schema.BuiltinSource{})
}

func layoutFor(t *testing.T, code string) domain.RecordTypeSchema {
	t.Helper()
	for _, layout := range schema.BuiltinLayouts() {
		if layout.Code == code {
			return layout
		}
	}
	t.Fatalf("layout %s not found", code)
	return domain.RecordTypeSchema{}
}

func fixedLine(t *testing.T, layout domain.RecordTypeSchema, values map[string]string) string {
	t.Helper()
	width := 0
	for _, f := range layout.Fields {
		if f.Position.End > width {
			width = f.Position.End
		}
	}
	line := []rune(strings.Repeat(" ", width))
	for _, f := range layout.Fields {
		value, ok := values[f.Name]
		if f.Name == "recordIdentifier" {
			value, ok = layout.Code, true
		}
		if !ok {
			continue
		}
		if len([]rune(value)) > f.Position.Width() {
			t.Fatalf("value %q too wide for %s", value, f.Name)
		}
		copy(line[f.Position.Start-1:], []rune(value))
	}
	return string(line)
}

func detailLine(t *testing.T, account, date, amount string) string {
	return fixedLine(t, layoutFor(t, domain.RecordTypeDetail), map[string]string{
		domain.FieldMerchantAccountNumber: account,
		domain.FieldTransactionDate:       date,
		domain.FieldTransactionAmount:     amount,
		domain.FieldMerchantName:          "ACME STORES",
		domain.FieldTerminalID:            "V5679867",
		domain.FieldTransactionTime:       "134501",
	})
}

func batchLine(t *testing.T, account, date string) string {
	return fixedLine(t, layoutFor(t, domain.RecordTypeBatchHeader), map[string]string{
		domain.FieldMerchantAccountNumber: account,
		domain.FieldBatchDate:             date,
		domain.FieldNetDeposit:            "000000000012500",
	})
}

func fixedClock() time.Time {
	return time.Date(2025, time.April, 2, 9, 30, 0, 0, time.UTC)
}

func TestDecodeFileCountsRecords(t *testing.T) {
	records := &stubRecordRepo{dupStats: domain.DuplicateStats{DuplicateGroups: 1, RowsRemoved: 1}}
	runs := &stubRunRepo{}
	collector := &stubCollector{}
	invalidator := &stubInvalidator{}

	lines := []string{
		batchLine(t, "0000000000123456", "03142025"),
		detailLine(t, "0000000000123456", "03152025", "00000012345"),
		detailLine(t, "0000000000123456", "13152025", "00000000100"),
		"too short",
		"",
	}
	svc := NewService(builtinRegistry(), records,
		WithDecodeRuns(runs),
		WithEntityCollector(func() EntityCollector { return collector }),
		WithMonthInvalidator(invalidator),
		WithClock(fixedClock),
	)

	summary, err := svc.DecodeFile(context.Background(), Request{
		UploadID: "upload-1",
		Filename: "VERMNTSB.6759_TDDF_2400_03152025_083045.TSYSO",
		Data:     strings.NewReader(strings.Join(lines, "\r\n")),
	})
	if err != nil {
		t.Fatalf("DecodeFile returned error: %v", err)
	}

	if summary.TotalLines != 4 {
		t.Fatalf("expected 4 non-blank lines, got %d", summary.TotalLines)
	}
	if summary.DecodedCount != 2 || summary.ErrorCount != 2 {
		t.Fatalf("expected 2 decoded and 2 errored, got %d/%d", summary.DecodedCount, summary.ErrorCount)
	}
	wantTypes := map[string]int{"BH": 1, "DT": 2, "??": 1}
	if diff := cmp.Diff(wantTypes, summary.RecordTypeCounts); diff != "" {
		t.Fatalf("record type counts mismatch (-want +got):\n%s", diff)
	}
	if summary.RowsPersisted != 4 || summary.BatchesCommitted != 1 {
		t.Fatalf("expected 4 rows in 1 batch, got %d rows in %d", summary.RowsPersisted, summary.BatchesCommitted)
	}
	if summary.Duplicates.RowsRemoved != 1 {
		t.Fatalf("expected duplicate stats to be reported, got %+v", summary.Duplicates)
	}
	if len(records.dedupeFor) != 1 || records.dedupeFor[0] != "upload-1" {
		t.Fatalf("expected deduplication for upload-1, got %v", records.dedupeFor)
	}

	if len(collector.added) != 1 || !collector.flushed {
		t.Fatalf("expected one clean detail to reach the collector, got %d (flushed=%v)", len(collector.added), collector.flushed)
	}
	if diff := cmp.Diff([]string{"2025-03"}, summary.MonthsInvalidated); diff != "" {
		t.Fatalf("months invalidated mismatch (-want +got):\n%s", diff)
	}

	all := records.all()
	if all[1].TimestampSource != domain.TimestampRecordDetail {
		t.Fatalf("expected detail timestamp source, got %s", all[1].TimestampSource)
	}
	wantTS := time.Date(2025, time.March, 15, 13, 45, 1, 0, time.UTC)
	if !all[1].ResolvedTimestamp.Equal(wantTS) {
		t.Fatalf("expected resolved timestamp %v, got %v", wantTS, all[1].ResolvedTimestamp)
	}
	// The invalid detail date falls back to the enclosing batch header.
	if all[2].TimestampSource != domain.TimestampRecordBatch {
		t.Fatalf("expected batch timestamp source for bad detail date, got %s", all[2].TimestampSource)
	}
	if all[3].TimestampSource != domain.TimestampFilename {
		t.Fatalf("expected filename timestamp source for unclassified line, got %s", all[3].TimestampSource)
	}
	if all[3].LineNumber != 4 {
		t.Fatalf("expected physical line number 4, got %d", all[3].LineNumber)
	}

	if len(runs.completed) != 1 || runs.completed[0].Status != domain.DecodeRunCompleted {
		t.Fatalf("expected a completed decode run, got %+v", runs.completed)
	}
	if runs.completed[0].ID != summary.RunID {
		t.Fatalf("expected run id %s, got %s", summary.RunID, runs.completed[0].ID)
	}
}

func TestDecodeFileKeepsCommittedBatchesOnFailure(t *testing.T) {
	records := &stubRecordRepo{failBatch: 2}
	runs := &stubRunRepo{}

	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		buf.WriteString(detailLine(t, "0000000000123456", "03152025", fmt.Sprintf("%011d", i+1)))
		buf.WriteByte('\n')
	}

	svc := NewService(builtinRegistry(), records, WithBatchSize(2), WithDecodeRuns(runs), WithClock(fixedClock))
	summary, err := svc.DecodeFile(context.Background(), Request{UploadID: "upload-2", Data: &buf})
	if err == nil {
		t.Fatalf("expected batch failure to be returned")
	}
	if !strings.Contains(err.Error(), "starting at line 3") {
		t.Fatalf("expected error to locate the failed batch, got %v", err)
	}
	if summary.BatchesCommitted != 1 || len(records.all()) != 2 {
		t.Fatalf("expected first batch to stay committed, got %d batches and %d rows", summary.BatchesCommitted, len(records.all()))
	}
	if len(records.dedupeFor) != 0 {
		t.Fatalf("expected no deduplication after a failed run")
	}
	if runs.completed[0].Status != domain.DecodeRunFailed || runs.completed[0].ErrorMessage == "" {
		t.Fatalf("expected failed decode run with message, got %+v", runs.completed[0])
	}
}

func TestDecodeFileRejectsNonFinancialData(t *testing.T) {
	records := &stubRecordRepo{}
	input := strings.Repeat("hello\nworld\n", 10)

	svc := NewService(builtinRegistry(), records, WithSniffLines(5))
	_, err := svc.DecodeFile(context.Background(), Request{UploadID: "notes", Data: strings.NewReader(input)})
	if !errors.Is(err, domain.ErrNotFinancialData) {
		t.Fatalf("expected ErrNotFinancialData, got %v", err)
	}
	if len(records.batches) != 0 {
		t.Fatalf("expected nothing to be written, got %d batches", len(records.batches))
	}
}

func TestDecodeFileRejectsShortNonFinancialFile(t *testing.T) {
	records := &stubRecordRepo{}
	svc := NewService(builtinRegistry(), records)

	_, err := svc.DecodeFile(context.Background(), Request{Data: strings.NewReader("a\nb\n")})
	if !errors.Is(err, domain.ErrNotFinancialData) {
		t.Fatalf("expected ErrNotFinancialData, got %v", err)
	}
	if len(records.batches) != 0 {
		t.Fatalf("expected nothing to be written")
	}
}

func TestDecodeFileSchemaUnavailable(t *testing.T) {
	records := &stubRecordRepo{}
	runs := &stubRunRepo{}
	svc := NewService(failingLoader{}, records, WithDecodeRuns(runs))

	_, err := svc.DecodeFile(context.Background(), Request{Data: strings.NewReader("x")})
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
	if len(records.batches) != 0 {
		t.Fatalf("expected no rows without a schema")
	}
	if len(runs.completed) != 1 || runs.completed[0].Status != domain.DecodeRunFailed {
		t.Fatalf("expected failed run to be recorded")
	}
}

func TestDecodeFileCapsSampleErrors(t *testing.T) {
	records := &stubRecordRepo{}
	var buf bytes.Buffer
	buf.WriteString(detailLine(t, "0000000000123456", "03152025", "00000000100"))
	buf.WriteByte('\n')
	for i := 0; i < 30; i++ {
		buf.WriteString("short\n")
	}

	svc := NewService(builtinRegistry(), records, WithClock(fixedClock))
	summary, err := svc.DecodeFile(context.Background(), Request{Data: &buf})
	if err != nil {
		t.Fatalf("DecodeFile returned error: %v", err)
	}
	if summary.ErrorCount != 30 {
		t.Fatalf("expected 30 errored lines, got %d", summary.ErrorCount)
	}
	if len(summary.SampleErrors) != maxSampleErrors {
		t.Fatalf("expected %d sample errors, got %d", maxSampleErrors, len(summary.SampleErrors))
	}
	if !strings.HasPrefix(summary.SampleErrors[0], "line 2:") {
		t.Fatalf("expected sample error to carry its line number, got %q", summary.SampleErrors[0])
	}
	if summary.UploadID == "" {
		t.Fatalf("expected an upload id to be generated")
	}
}

func TestDecodeFileInvalidatesEveryTouchedMonth(t *testing.T) {
	invalidator := &stubInvalidator{}
	lines := []string{
		detailLine(t, "0000000000123456", "02282025", "00000000100"),
		detailLine(t, "0000000000123456", "03012025", "00000000100"),
		detailLine(t, "0000000000123456", "03022025", "00000000100"),
	}
	svc := NewService(builtinRegistry(), &stubRecordRepo{}, WithMonthInvalidator(invalidator))

	summary, err := svc.DecodeFile(context.Background(), Request{Data: strings.NewReader(strings.Join(lines, "\n"))})
	if err != nil {
		t.Fatalf("DecodeFile returned error: %v", err)
	}

	got := append([]string(nil), summary.MonthsInvalidated...)
	sort.Strings(got)
	if diff := cmp.Diff([]string{"2025-02", "2025-03"}, got); diff != "" {
		t.Fatalf("months mismatch (-want +got):\n%s", diff)
	}
	if len(invalidator.dates) != 3 {
		t.Fatalf("expected 3 distinct business dates, got %d", len(invalidator.dates))
	}
}

func TestDecodeFileReadsEBCDIC(t *testing.T) {
	records := &stubRecordRepo{}
	line := detailLine(t, "0000000000123456", "03152025", "00000012345")
	encoded, err := charmap.CodePage037.NewEncoder().String(line + "\u0085" + line)
	if err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}

	svc := NewService(builtinRegistry(), records, WithEncoding("cp037"))
	summary, err := svc.DecodeFile(context.Background(), Request{Data: strings.NewReader(encoded)})
	if err != nil {
		t.Fatalf("DecodeFile returned error: %v", err)
	}
	if summary.DecodedCount != 2 {
		t.Fatalf("expected 2 decoded EBCDIC records, got %d (errors %v)", summary.DecodedCount, summary.SampleErrors)
	}
	if got := records.all()[0].ExtractedFields[domain.FieldTransactionAmount]; got != "123.45" {
		t.Fatalf("expected amount 123.45, got %v", got)
	}
}

func TestDecodingReaderStripsBOM(t *testing.T) {
	reader, err := DecodingReader(strings.NewReader("\ufeffabc"), "utf-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if buf.String() != "abc" {
		t.Fatalf("expected BOM to be stripped, got %q", buf.String())
	}

	if _, err := DecodingReader(strings.NewReader(""), "klingon"); err == nil {
		t.Fatalf("expected unsupported encoding error")
	}
}
