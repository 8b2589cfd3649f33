package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record type codes found in columns 18-19 of a TDDF line.
const (
	RecordTypeDetail         = "DT"
	RecordTypeBatchHeader    = "BH"
	RecordTypePurchasingExt1 = "P1"
	RecordTypePurchasingExt2 = "P2"
	RecordTypeAdjustment     = "AD"
	RecordTypeUnclassified   = "??"
)

// Field names shared between the layouts and the downstream stages.
const (
	FieldMerchantAccountNumber = "merchantAccountNumber"
	FieldMerchantName          = "merchantName"
	FieldCategoryCode          = "mccCode"
	FieldTerminalID            = "terminalId"
	FieldTransactionDate       = "transactionDate"
	FieldTransactionTime       = "transactionTime"
	FieldTransactionAmount     = "transactionAmount"
	FieldBatchDate             = "batchDate"
	FieldNetDeposit            = "netDeposit"
)

// RecordKind is the closed set of layouts the engine understands.
type RecordKind string

const (
	KindDetail         RecordKind = "detail"
	KindBatchHeader    RecordKind = "batch_header"
	KindPurchasingExt1 RecordKind = "purchasing_ext_1"
	KindPurchasingExt2 RecordKind = "purchasing_ext_2"
	KindAdjustment     RecordKind = "adjustment"
	KindGeneric        RecordKind = "generic"
)

// KindOf maps a record type code to its kind; unknown codes use the generic variant.
func KindOf(code string) RecordKind {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case RecordTypeDetail:
		return KindDetail
	case RecordTypeBatchHeader:
		return KindBatchHeader
	case RecordTypePurchasingExt1:
		return KindPurchasingExt1
	case RecordTypePurchasingExt2:
		return KindPurchasingExt2
	case RecordTypeAdjustment:
		return KindAdjustment
	default:
		return KindGeneric
	}
}

// TimestampSource records which rule produced a record's resolved timestamp.
type TimestampSource string

const (
	TimestampRecordDetail   TimestampSource = "record-detail"
	TimestampRecordBatch    TimestampSource = "record-batch"
	TimestampFilename       TimestampSource = "filename"
	TimestampIngestFallback TimestampSource = "ingest-fallback"
)

// DecodedRecord is the extractor output for one raw line.
type DecodedRecord struct {
	LineNumber  int
	RecordType  string
	Kind        RecordKind
	Fields      map[string]any
	RawLine     string
	RawLineHash string
	Errors      []string
	Warnings    []string
}

// HasErrors reports whether the row is excluded from clean counts.
func (r DecodedRecord) HasErrors() bool {
	return len(r.Errors) > 0
}

// AddError appends a row-level error message.
func (r *DecodedRecord) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning appends a non-fatal note about the row.
func (r *DecodedRecord) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Text returns a field value as a string; nil and missing fields yield "".
func (r DecodedRecord) Text(name string) string {
	value, ok := r.Fields[name]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// MasterRecord is the persisted form of a decoded line.
type MasterRecord struct {
	ID                int64
	UploadID          string
	Filename          string
	LineNumber        int
	RecordType        string
	RawLine           string
	RawLineHash       string
	ExtractedFields   map[string]any
	Errors            []string
	ResolvedTimestamp time.Time
	TimestampSource   TimestampSource
	BusinessDate      time.Time
	CreatedAt         time.Time
}

// FieldsToJSON marshals the extracted field map for the JSONB column.
func (m MasterRecord) FieldsToJSON() (json.RawMessage, error) {
	fields := m.ExtractedFields
	if fields == nil {
		fields = map[string]any{}
	}
	return json.Marshal(fields)
}

// ErrorsToJSON marshals the row errors for the JSONB column.
func (m MasterRecord) ErrorsToJSON() (json.RawMessage, error) {
	errs := m.Errors
	if errs == nil {
		errs = []string{}
	}
	return json.Marshal(errs)
}

// DuplicateStats summarizes one deduplication pass over an upload.
type DuplicateStats struct {
	DuplicateGroups int64 `json:"duplicateGroups"`
	RowsRemoved     int64 `json:"rowsRemoved"`
}

// CacheSourceRow is the slice of a master record the monthly cache needs.
type CacheSourceRow struct {
	UploadID     string
	RecordType   string
	BusinessDate time.Time
	// Amount is the record's monetary field as stored: transaction amount for
	// detail rows, net deposit for batch headers. Empty when absent.
	Amount string
}
