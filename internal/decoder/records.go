package decoder

import (
	"time"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/shopspring/decimal"
)

// Variant is the typed view of a decoded record. The set of implementations is
// closed: Detail, BatchHeader, PurchasingExtension, Adjustment and Generic.
type Variant interface {
	Kind() domain.RecordKind
	variant()
}

// Detail is a decoded transaction line.
type Detail struct {
	MerchantAccountNumber string
	MerchantName          string
	CategoryCode          string
	TerminalID            string
	TransactionDate       *time.Time
	TransactionTime       string
	TransactionAmount     *decimal.Decimal
}

// BatchHeader summarizes a batch of detail records.
type BatchHeader struct {
	MerchantAccountNumber string
	BatchDate             *time.Time
	NetDeposit            *decimal.Decimal
}

// PurchasingExtension carries P1/P2 purchasing card data.
type PurchasingExtension struct {
	Sequence              int
	MerchantAccountNumber string
}

// Adjustment is a chargeback or correction line.
type Adjustment struct {
	MerchantAccountNumber string
	AdjustmentDate        *time.Time
	Amount                *decimal.Decimal
}

// Generic wraps record types without a dedicated layout.
type Generic struct {
	Code                  string
	MerchantAccountNumber string
}

func (Detail) Kind() domain.RecordKind { return domain.KindDetail }
func (BatchHeader) Kind() domain.RecordKind { return domain.KindBatchHeader }
func (p PurchasingExtension) Kind() domain.RecordKind {
	if p.Sequence == 2 {
		return domain.KindPurchasingExt2
	}
	return domain.KindPurchasingExt1
}
func (Adjustment) Kind() domain.RecordKind { return domain.KindAdjustment }
func (Generic) Kind() domain.RecordKind { return domain.KindGeneric }

func (Detail) variant() {}
func (BatchHeader) variant() {}
func (PurchasingExtension) variant() {}
func (Adjustment) variant() {}
func (Generic) variant() {}

// View builds the typed variant for a decoded record.
func View(record domain.DecodedRecord) Variant {
	account := record.Text(domain.FieldMerchantAccountNumber)
	switch record.Kind {
	case domain.KindDetail:
		return Detail{
			MerchantAccountNumber: account,
			MerchantName:          record.Text(domain.FieldMerchantName),
			CategoryCode:          record.Text(domain.FieldCategoryCode),
			TerminalID:            record.Text(domain.FieldTerminalID),
			TransactionDate:       dateField(record, domain.FieldTransactionDate),
			TransactionTime:       record.Text(domain.FieldTransactionTime),
			TransactionAmount:     amountField(record, domain.FieldTransactionAmount),
		}
	case domain.KindBatchHeader:
		return BatchHeader{
			MerchantAccountNumber: account,
			BatchDate:             dateField(record, domain.FieldBatchDate),
			NetDeposit:            amountField(record, domain.FieldNetDeposit),
		}
	case domain.KindPurchasingExt1:
		return PurchasingExtension{Sequence: 1, MerchantAccountNumber: account}
	case domain.KindPurchasingExt2:
		return PurchasingExtension{Sequence: 2, MerchantAccountNumber: account}
	case domain.KindAdjustment:
		return Adjustment{
			MerchantAccountNumber: account,
			AdjustmentDate:        dateField(record, "adjustmentDate"),
			Amount:                amountField(record, "adjustmentAmount"),
		}
	default:
		return Generic{Code: record.RecordType, MerchantAccountNumber: account}
	}
}

// dateField returns the parsed value of a normalized date field. Values that
// failed validation are still raw text and yield nil.
func dateField(record domain.DecodedRecord, name string) *time.Time {
	raw := record.Text(name)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func amountField(record domain.DecodedRecord, name string) *decimal.Decimal {
	raw := record.Text(name)
	if raw == "" {
		return nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &amount
}
