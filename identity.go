package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// TransactionID computes the stable, deterministic identifier of a bank
// transaction from its immutable properties. The same row always maps to
// the same id, regardless of when or how often it is imported: every piece
// of work product (links, categorizations, duplicate decisions) is keyed
// by it.
//
// The id is the first 16 hex characters of the SHA-256 of the pipe-joined
// canonical fields:
//
//	account|YYYY-MM-DD|amount|description
//
// where the amount is rendered with exactly two fractional digits, sign
// included, no thousands separator, and the description is taken verbatim
// (no trimming). Changing any part of this rendering is an id-space
// migration and must never be done silently.
func TransactionID(account string, day date.Date, amount decimal.Decimal, description string) string {
	fields := []string{
		account,
		day.String(),
		amount.StringFixed(2),
		description,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:8])
}
