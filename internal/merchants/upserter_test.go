package merchants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/repository"
)

type stubMerchantRepo struct {
	calls [][]domain.MerchantUpsert
	known map[string]bool
}

var _ repository.MerchantRepository = (*stubMerchantRepo)(nil)

func (s *stubMerchantRepo) Upsert(_ context.Context, merchants []domain.MerchantUpsert) (repository.UpsertCounts, error) {
	s.calls = append(s.calls, merchants)
	var counts repository.UpsertCounts
	for _, m := range merchants {
		if s.known[m.AccountNumber] {
			counts.Updated++
		} else {
			counts.Created++
		}
	}
	return counts, nil
}

func (s *stubMerchantRepo) Get(context.Context, string) (domain.Merchant, error) {
	return domain.Merchant{}, domain.ErrNotFound
}

type stubTerminalRepo struct {
	calls [][]domain.TerminalUpsert
	err   error
}

var _ repository.TerminalRepository = (*stubTerminalRepo)(nil)

func (s *stubTerminalRepo) Upsert(_ context.Context, terminals []domain.TerminalUpsert) (repository.UpsertCounts, error) {
	if s.err != nil {
		return repository.UpsertCounts{}, s.err
	}
	s.calls = append(s.calls, terminals)
	return repository.UpsertCounts{Created: len(terminals)}, nil
}

func (s *stubTerminalRepo) ListByMerchant(context.Context, string) ([]domain.Terminal, error) {
	return nil, nil
}

func detail(account, name, mcc, terminal, date string) domain.DecodedRecord {
	return domain.DecodedRecord{
		RecordType: domain.RecordTypeDetail,
		Kind:       domain.KindDetail,
		Fields: map[string]any{
			domain.FieldMerchantAccountNumber: account,
			domain.FieldMerchantName:          name,
			domain.FieldCategoryCode:          mcc,
			domain.FieldTerminalID:            terminal,
			domain.FieldTransactionDate:       date,
		},
	}
}

func day(value string) *time.Time {
	parsed, err := time.Parse(time.DateOnly, value)
	if err != nil {
		panic(err)
	}
	return &parsed
}

func TestApplyGroupsTerminalsUnderMerchant(t *testing.T) {
	merchants := &stubMerchantRepo{known: map[string]bool{}}
	terminals := &stubTerminalRepo{}
	upserter := NewUpserter(merchants, terminals)

	records := []domain.DecodedRecord{
		detail("0000000000123456", "", "", "75679867", "2025-03-14"),
		detail("0000000000123456", "ACME STORES", "5411", "00183380", "2025-03-16"),
		detail("0000000000123456", "ACME LATER", "5999", "75679867", "2025-03-15"),
	}

	stats, err := upserter.Apply(context.Background(), records)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	wantStats := domain.UpsertStats{MerchantsCreated: 1, TerminalsCreated: 2}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	wantMerchants := []domain.MerchantUpsert{{
		AccountNumber:  "0000000000123456",
		Name:           "ACME STORES",
		CategoryCode:   "5411",
		LastActivityAt: day("2025-03-16"),
	}}
	if diff := cmp.Diff(wantMerchants, merchants.calls[0]); diff != "" {
		t.Fatalf("merchant upsert mismatch (-want +got):\n%s", diff)
	}

	wantTerminals := []domain.TerminalUpsert{
		{
			VNumber:               "V0183380",
			TerminalID:            "00183380",
			MerchantAccountNumber: "0000000000123456",
			CategoryCode:          "5411",
			LastActivityAt:        day("2025-03-16"),
		},
		{
			VNumber:               "V5679867",
			TerminalID:            "75679867",
			MerchantAccountNumber: "0000000000123456",
			CategoryCode:          "5999",
			LastActivityAt:        day("2025-03-15"),
		},
	}
	if diff := cmp.Diff(wantTerminals, terminals.calls[0]); diff != "" {
		t.Fatalf("terminal upsert mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorSkipsErroredAndNonDetailRecords(t *testing.T) {
	merchants := &stubMerchantRepo{known: map[string]bool{"0000000000999999": true}}
	terminals := &stubTerminalRepo{}
	collector := NewUpserter(merchants, terminals).NewCollector()

	bad := detail("0000000000111111", "BROKEN", "", "71111111", "2025-03-14")
	bad.AddError("field transactionAmount: not numeric")
	header := domain.DecodedRecord{
		RecordType: domain.RecordTypeBatchHeader,
		Kind:       domain.KindBatchHeader,
		Fields:     map[string]any{domain.FieldMerchantAccountNumber: "0000000000222222"},
	}

	collector.Add(bad)
	collector.Add(header)
	collector.Add(detail("", "NO ACCOUNT", "", "", "2025-03-14"))
	collector.Add(detail("0000000000999999", "KNOWN", "", "", "2025-03-14"))

	if m, term := collector.Len(); m != 1 || term != 0 {
		t.Fatalf("expected 1 merchant and 0 terminals pending, got %d/%d", m, term)
	}

	stats, err := collector.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if stats.MerchantsUpdated != 1 || stats.MerchantsCreated != 0 {
		t.Fatalf("expected one merchant update, got %+v", stats)
	}
	if m, term := collector.Len(); m != 0 || term != 0 {
		t.Fatalf("expected collector to reset after flush")
	}
}

func TestFlushWrapsRepositoryErrors(t *testing.T) {
	terminals := &stubTerminalRepo{err: errors.New("deadlock detected")}
	collector := NewUpserter(&stubMerchantRepo{}, terminals).NewCollector()
	collector.Add(detail("0000000000123456", "ACME", "5411", "75679867", "2025-03-14"))

	_, err := collector.Flush(context.Background())
	if err == nil || !errors.Is(err, terminals.err) {
		t.Fatalf("expected wrapped terminal error, got %v", err)
	}
}

func TestFlushRequiresRepositories(t *testing.T) {
	if _, err := NewUpserter(nil, nil).Apply(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing repositories")
	}
}
