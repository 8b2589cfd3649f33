package decoder

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPrefixLength is the number of leading characters covered by the line hash.
// The record header (sequence, run, type, bank, account and group) lives there.
const HashPrefixLength = 52

// HashLine returns the hex SHA-256 of the first HashPrefixLength characters of line.
func HashLine(line string) string {
	runes := []rune(line)
	if len(runes) > HashPrefixLength {
		runes = runes[:HashPrefixLength]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:])
}
