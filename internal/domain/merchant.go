package domain

import (
	"strings"
	"time"
)

// Merchant is the dimension row keyed by merchant account number.
type Merchant struct {
	AccountNumber  string
	Name           string
	CategoryCode   string
	LastActivityAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal is the dimension row keyed by V-number.
type Terminal struct {
	VNumber               string
	TerminalID            string
	MerchantAccountNumber string
	CategoryCode          string
	LastActivityAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// MerchantUpsert carries the values derived from one file for one merchant.
type MerchantUpsert struct {
	AccountNumber  string
	Name           string
	CategoryCode   string
	LastActivityAt *time.Time
}

// TerminalUpsert carries the values derived from one file for one terminal.
type TerminalUpsert struct {
	VNumber               string
	TerminalID            string
	MerchantAccountNumber string
	CategoryCode          string
	LastActivityAt        *time.Time
}

// UpsertStats counts the effect of one dimension upsert pass.
type UpsertStats struct {
	MerchantsCreated int `json:"merchantsCreated"`
	MerchantsUpdated int `json:"merchantsUpdated"`
	TerminalsCreated int `json:"terminalsCreated"`
	TerminalsUpdated int `json:"terminalsUpdated"`
}

// VNumber derives the terminal's V-number: a leading '7' or '0' becomes 'V'.
// Any other identifier is used unchanged.
func VNumber(terminalID string) string {
	id := strings.TrimSpace(terminalID)
	if id == "" {
		return ""
	}
	switch id[0] {
	case '7', '0':
		return "V" + id[1:]
	default:
		return id
	}
}
