package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// nullSender stands in for a missing sender id in the fingerprint input.
const nullSender = "null"

// Fingerprint returns the dedup key of a message: the lowercase hex SHA-256
// of "sender|body|timestamp".
func Fingerprint(sender, body string, timestampMillis int64) string {
	if sender == "" {
		sender = nullSender
	}
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte{'|'})
	h.Write([]byte(body))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(timestampMillis, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionFingerprint derives the dedup key of a transaction that did not
// come from a message, such as a manual entry. It depends only on fields
// that survive a backup round trip.
func TransactionFingerprint(tx api.Transaction) string {
	body := fmt.Sprintf("%s|%s|%s|%s|%s", tx.Amount.String(), tx.Direction, tx.CategoryName(), tx.Merchant, tx.Source)
	return Fingerprint("ledger", body, tx.OccurredAt.UnixMilli())
}
