package decoder

import (
	"testing"
	"time"

	"github.com/rpattn/tddf/internal/domain"
)

func TestParseFilename(t *testing.T) {
	meta, ok := ParseFilename("/uploads/VERMNTSB.6759_TDDF_2400_07142025_083001.TSYSO", time.UTC)
	if !ok {
		t.Fatalf("expected structured filename to parse")
	}
	if meta.Sequence != 2400 {
		t.Fatalf("unexpected sequence %d", meta.Sequence)
	}
	want := time.Date(2025, 7, 14, 8, 30, 1, 0, time.UTC)
	if !meta.ProcessedAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, meta.ProcessedAt)
	}

	for _, name := range []string{
		"upload.txt",
		"X_TDDF_1_13142025_083001.TSYSO",
		"X_TDDF_1_07142025_250000.TSYSO",
		"X_TDDF_1_07142025_083001",
	} {
		if _, ok := ParseFilename(name, time.UTC); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolverPriority(t *testing.T) {
	ingest := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTimestampResolver(time.UTC, WithClock(fixedClock(ingest)))

	filenameMeta := &FilenameMetadata{ProcessedAt: time.Date(2025, 7, 15, 6, 0, 0, 0, time.UTC)}
	batchDate := time.Date(2025, 7, 13, 0, 0, 0, 0, time.UTC)

	detail := domain.DecodedRecord{
		Kind: domain.KindDetail,
		Fields: map[string]any{
			domain.FieldTransactionDate: "2025-07-14",
			domain.FieldTransactionTime: "083001",
		},
	}
	got := resolver.Resolve(detail, FileContext{Filename: filenameMeta, BatchDate: &batchDate})
	if got.Source != domain.TimestampRecordDetail || !got.Timestamp.Equal(time.Date(2025, 7, 14, 8, 30, 1, 0, time.UTC)) {
		t.Fatalf("expected detail timestamp, got %+v", got)
	}

	undated := domain.DecodedRecord{Kind: domain.KindDetail, Fields: map[string]any{domain.FieldTransactionDate: "13142025"}}
	got = resolver.Resolve(undated, FileContext{Filename: filenameMeta, BatchDate: &batchDate})
	if got.Source != domain.TimestampRecordBatch || !got.Timestamp.Equal(batchDate) {
		t.Fatalf("expected enclosing batch date, got %+v", got)
	}

	header := domain.DecodedRecord{Kind: domain.KindBatchHeader, Fields: map[string]any{domain.FieldBatchDate: "2025-07-12"}}
	got = resolver.Resolve(header, FileContext{Filename: filenameMeta})
	if got.Source != domain.TimestampRecordBatch || !got.Timestamp.Equal(time.Date(2025, 7, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected batch timestamp, got %+v", got)
	}

	got = resolver.Resolve(undated, FileContext{Filename: filenameMeta})
	if got.Source != domain.TimestampFilename || !got.Timestamp.Equal(filenameMeta.ProcessedAt) {
		t.Fatalf("expected filename timestamp, got %+v", got)
	}

	got = resolver.Resolve(domain.DecodedRecord{Kind: domain.KindGeneric}, FileContext{})
	if got.Source != domain.TimestampIngestFallback || !got.Timestamp.Equal(ingest) {
		t.Fatalf("expected ingest fallback, got %+v", got)
	}
}

func TestResolverInvalidClockKeepsMidnight(t *testing.T) {
	resolver := NewTimestampResolver(time.UTC)
	detail := domain.DecodedRecord{
		Kind: domain.KindDetail,
		Fields: map[string]any{
			domain.FieldTransactionDate: "2025-03-31",
			domain.FieldTransactionTime: "256199",
		},
	}
	got := resolver.Resolve(detail, FileContext{})
	if !got.Timestamp.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected midnight, got %s", got.Timestamp)
	}
}

func TestResolutionBusinessDateUsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("CST", -6*60*60)
	resolver := NewTimestampResolver(loc, WithClock(fixedClock(time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC))))

	got := resolver.Resolve(domain.DecodedRecord{Kind: domain.KindGeneric}, FileContext{})
	want := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	if !got.BusinessDate().Equal(want) {
		t.Fatalf("expected business date %s, got %s", want, got.BusinessDate())
	}
}
