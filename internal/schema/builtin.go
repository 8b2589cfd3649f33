package schema

import (
	"context"

	"github.com/rpattn/tddf/internal/domain"
)

// BuiltinSource serves the compiled-in TDDF layouts.
type BuiltinSource struct{}

// Name implements Source.
func (BuiltinSource) Name() string { return "builtin" }

// Load implements Source.
func (BuiltinSource) Load(context.Context) ([]domain.RecordTypeSchema, error) {
	return BuiltinLayouts(), nil
}

type fieldOption func(*domain.FieldSpec)

func scaled(scale int) fieldOption {
	return func(f *domain.FieldSpec) {
		f.Format = domain.FormatNumeric
		f.DecimalScale = &scale
	}
}

func describe(text string) fieldOption {
	return func(f *domain.FieldSpec) { f.Description = text }
}

func field(name, position string, format domain.FieldFormat, opts ...fieldOption) domain.FieldSpec {
	spec := domain.FieldSpec{
		Name:     name,
		Position: domain.ParsePosition(position),
		Format:   format,
	}
	spec.DeclaredLength = spec.Position.Width()
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

func amount(name, position string, opts ...fieldOption) domain.FieldSpec {
	return field(name, position, domain.FormatNumeric, append([]fieldOption{scaled(2)}, opts...)...)
}

// layout assigns tab columns in declaration order so the same layout decodes
// both fixed-width and tab-delimited exports.
func layout(code, description string, fields ...domain.FieldSpec) domain.RecordTypeSchema {
	for i := range fields {
		column := i
		fields[i].Column = &column
	}
	return domain.RecordTypeSchema{Code: code, Description: description, Fields: fields}
}

func headerFields() []domain.FieldSpec {
	return []domain.FieldSpec{
		field("sequenceNumber", "1-7", domain.FormatNumeric, describe("File sequence number")),
		field("entryRunNumber", "8-13", domain.FormatNumeric),
		field("sequenceWithinRun", "14-17", domain.FormatNumeric),
		field("recordIdentifier", "18-19", domain.FormatText, describe("Record type code")),
		field("bankNumber", "20-23", domain.FormatNumeric),
		field(domain.FieldMerchantAccountNumber, "24-39", domain.FormatText),
		field("associationNumber1", "40-45", domain.FormatText),
		field("groupNumber", "46-51", domain.FormatText),
		field("transactionCode", "52-55", domain.FormatNumeric),
	}
}

func withHeader(fields ...domain.FieldSpec) []domain.FieldSpec {
	return append(headerFields(), fields...)
}

// GenericLayout decodes only the shared record header. It is used for record
// type codes the loaded schema does not describe.
func GenericLayout() domain.RecordTypeSchema {
	return layout("", "Unrecognised record type (header only)", headerFields()...)
}

// BuiltinLayouts returns fresh copies of the compiled-in layouts.
func BuiltinLayouts() []domain.RecordTypeSchema {
	return []domain.RecordTypeSchema{
		layout(domain.RecordTypeDetail, "Detail transaction", withHeader(
			field("associationNumber2", "56-61", domain.FormatText),
			field("referenceNumber", "62-84", domain.FormatText),
			field(domain.FieldTransactionDate, "85-92", domain.FormatDate),
			amount(domain.FieldTransactionAmount, "93-103"),
			field("batchJulianDate", "104-108", domain.FormatNumeric),
			amount(domain.FieldNetDeposit, "109-123"),
			field("cardholderAccountNumber", "124-142", domain.FormatText),
			amount("authorizationAmount", "143-154"),
			field("authorizationNumber", "155-160", domain.FormatText),
			field("cardType", "161-162", domain.FormatText),
			field(domain.FieldMerchantName, "163-187", domain.FormatText),
			field("merchantCity", "188-200", domain.FormatAlpha),
			field("merchantState", "201-202", domain.FormatAlpha),
			field(domain.FieldCategoryCode, "203-206", domain.FormatText, describe("Merchant category code")),
			field(domain.FieldTerminalID, "207-214", domain.FormatText),
			field(domain.FieldTransactionTime, "215-220", domain.FormatText, describe("HHMMSS")),
			amount("feeAmount", "221-232"),
		)...),
		layout(domain.RecordTypeBatchHeader, "Batch header", withHeader(
			field(domain.FieldBatchDate, "56-63", domain.FormatDate),
			field("batchJulianDate", "64-68", domain.FormatNumeric),
			amount(domain.FieldNetDeposit, "69-83"),
			field("rejectReason", "84-87", domain.FormatText),
			field("merchantReferenceNumber", "88-103", domain.FormatText),
			field("batchId", "104-126", domain.FormatText),
		)...),
		layout(domain.RecordTypePurchasingExt1, "Purchasing card extension 1", withHeader(
			amount("taxAmount", "56-67"),
			field("taxRate", "68-74", domain.FormatNumeric, scaled(4)),
			field("taxType", "75", domain.FormatText),
			field("purchaseIdentifier", "76-92", domain.FormatText),
			field("customerCode", "93-102", domain.FormatText),
			amount("discountAmount", "103-111"),
			amount("freightAmount", "112-120"),
			amount("dutyAmount", "121-129"),
			field("destinationPostalCode", "130-139", domain.FormatText),
			field("destinationCountryCode", "140-142", domain.FormatText),
			field("shipFromPostalCode", "143-152", domain.FormatText),
		)...),
		layout(domain.RecordTypePurchasingExt2, "Purchasing card extension 2 (line item)", withHeader(
			field("itemDescription", "56-90", domain.FormatText),
			field("productCode", "91-102", domain.FormatText),
			field("itemQuantity", "103-114", domain.FormatNumeric),
			field("unitOfMeasure", "115-126", domain.FormatText),
			amount("unitCost", "127-138"),
			amount("lineItemTotal", "139-150"),
			amount("itemDiscountAmount", "151-162"),
			amount("itemTaxAmount", "163-174"),
		)...),
		layout(domain.RecordTypeAdjustment, "Adjustment", withHeader(
			field("associationNumber2", "56-61", domain.FormatText),
			field("referenceNumber", "62-84", domain.FormatText),
			field("adjustmentDate", "85-92", domain.FormatDate),
			amount("adjustmentAmount", "93-103"),
			field("adjustmentReasonCode", "104-107", domain.FormatText),
			field("adjustmentDescription", "108-137", domain.FormatText),
			field("debitCreditIndicator", "138", domain.FormatAlpha),
		)...),
	}
}
