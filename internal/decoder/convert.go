package decoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	minMonetaryLength = 6
	legacyMoneyScale  = 2
	minYear           = 1900
	maxYear           = 2100
)

var (
	monetaryName  = regexp.MustCompile(`(?i)amount|exposure|fee|limit|threshold`)
	alphaPattern  = regexp.MustCompile(`^[A-Za-z .,'-]*$`)
	isoDate       = regexp.MustCompile(`^(\d{4})([-/])(\d{1,2})([-/])(\d{1,2})$`)
	usSlashedDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	compactDate   = regexp.MustCompile(`^\d{8}$`)
)

// MonetaryScale reports the number of implied fraction digits for a numeric
// field. An explicit DecimalScale wins; otherwise fields whose name looks like
// a money quantity and whose length is at least six carry two.
func MonetaryScale(spec domain.FieldSpec) (int, bool) {
	if spec.DecimalScale != nil {
		return *spec.DecimalScale, *spec.DecimalScale > 0
	}
	if monetaryName.MatchString(spec.Name) && spec.Length() >= minMonetaryLength {
		return legacyMoneyScale, true
	}
	return 0, false
}

func fieldError(spec domain.FieldSpec, format string, args ...any) error {
	return fmt.Errorf("%w: field %s: %s", domain.ErrFieldValidation, spec.Name, fmt.Sprintf(format, args...))
}

// convertValue turns a trimmed, non-empty raw slice into its typed value. On a
// validation error the raw text is returned as the value.
func convertValue(spec domain.FieldSpec, raw string) (any, error) {
	switch spec.Format {
	case domain.FormatAlpha:
		if !alphaPattern.MatchString(raw) {
			return raw, fieldError(spec, "%q contains non-alphabetic characters", raw)
		}
		return raw, nil
	case domain.FormatNumeric:
		return convertNumeric(spec, raw)
	case domain.FormatDate:
		normalized, err := NormalizeDate(raw)
		if err != nil {
			return raw, fieldError(spec, "%v", err)
		}
		return normalized, nil
	default:
		return raw, nil
	}
}

func convertNumeric(spec domain.FieldSpec, raw string) (any, error) {
	sign, digits := "", raw
	if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		sign, digits = digits[:1], digits[1:]
		if sign == "+" {
			sign = ""
		}
	}

	scale, monetary := MonetaryScale(spec)

	if whole, frac, hasPoint := strings.Cut(digits, "."); hasPoint {
		if !monetary || !allDigits(whole+frac) || whole+frac == "" {
			return raw, fieldError(spec, "%q is not numeric", raw)
		}
		amount, err := decimal.NewFromString(sign + digits)
		if err != nil {
			return raw, fieldError(spec, "%q is not numeric", raw)
		}
		return amount.StringFixed(int32(scale)), nil
	}

	if digits == "" || !allDigits(digits) {
		return raw, fieldError(spec, "%q is not numeric", raw)
	}

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
		sign = ""
	}

	if monetary {
		amount, err := decimal.NewFromString(sign + digits)
		if err != nil {
			return raw, fieldError(spec, "%q is not numeric", raw)
		}
		return amount.Shift(int32(-scale)).StringFixed(int32(scale)), nil
	}

	value, err := strconv.ParseInt(sign+digits, 10, 64)
	if err != nil {
		// Identifiers wider than int64 keep their normalized digits.
		return sign + digits, nil
	}
	return value, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeDate accepts MMDDYYYY, YYYY-MM-DD, YYYY/MM/DD and MM/DD/YYYY and
// returns YYYY-MM-DD after range validation.
func NormalizeDate(raw string) (string, error) {
	var year, month, day int
	switch {
	case compactDate.MatchString(raw):
		month, _ = strconv.Atoi(raw[0:2])
		day, _ = strconv.Atoi(raw[2:4])
		year, _ = strconv.Atoi(raw[4:8])
	case isoDate.MatchString(raw):
		parts := isoDate.FindStringSubmatch(raw)
		if parts[2] != parts[4] {
			return "", fmt.Errorf("unsupported date format %q", raw)
		}
		year, _ = strconv.Atoi(parts[1])
		month, _ = strconv.Atoi(parts[3])
		day, _ = strconv.Atoi(parts[5])
	case usSlashedDate.MatchString(raw):
		parts := usSlashedDate.FindStringSubmatch(raw)
		month, _ = strconv.Atoi(parts[1])
		day, _ = strconv.Atoi(parts[2])
		year, _ = strconv.Atoi(parts[3])
	default:
		return "", fmt.Errorf("unsupported date format %q", raw)
	}

	if year < minYear || year > maxYear {
		return "", fmt.Errorf("year %d out of range in %q", year, raw)
	}
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month %d out of range in %q", month, raw)
	}
	if day < 1 || day > 31 {
		return "", fmt.Errorf("day %d out of range in %q", day, raw)
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return "", fmt.Errorf("day %d does not exist in %04d-%02d", day, year, month)
	}
	return date.Format(time.DateOnly), nil
}
