package decoder

import (
	"fmt"
	"strings"

	"github.com/rpattn/tddf/internal/domain"
)

const (
	// recordTypeStart is the 1-based column where the record type code begins.
	recordTypeStart = 18
	// MinHeaderLength is the shortest line that still carries a record type code.
	MinHeaderLength = recordTypeStart + 1
	// DefaultTabTypeColumn is the 0-based column holding the record type code in
	// tab-delimited exports.
	DefaultTabTypeColumn = 3
)

// Classifier reads the record type code from a raw line.
type Classifier struct {
	tabColumn int
}

// NewClassifier returns a classifier for the standard TDDF header.
func NewClassifier() Classifier {
	return Classifier{tabColumn: DefaultTabTypeColumn}
}

// Classify returns the upper-cased two-character code found in columns 18-19.
// Tab-delimited lines whose fixed slice is unusable are classified from the
// record identifier column instead.
func (c Classifier) Classify(line string) (string, error) {
	runes := []rune(line)
	code, err := classifyFixed(runes)
	if err == nil || !strings.ContainsRune(line, '\t') {
		return code, err
	}

	columns := strings.Split(line, "\t")
	if c.tabColumn >= len(columns) {
		return "", fmt.Errorf("%w: tab-delimited line has %d columns", domain.ErrLineTooShort, len(columns))
	}
	candidate := strings.TrimSpace(columns[c.tabColumn])
	if !isRecordCode(candidate) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnclassifiableRecordType, candidate)
	}
	return strings.ToUpper(candidate), nil
}

func classifyFixed(runes []rune) (string, error) {
	if len(runes) < MinHeaderLength {
		return "", fmt.Errorf("%w: %d characters, need at least %d", domain.ErrLineTooShort, len(runes), MinHeaderLength)
	}
	candidate := string(runes[recordTypeStart-1 : recordTypeStart+1])
	if !isRecordCode(candidate) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnclassifiableRecordType, candidate)
	}
	return strings.ToUpper(candidate), nil
}

func isRecordCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		isDigit := ch >= '0' && ch <= '9'
		isLetter := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
		if !isDigit && !isLetter {
			return false
		}
	}
	return true
}
