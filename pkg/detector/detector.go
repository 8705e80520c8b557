// Package detector turns raw notification messages into candidate ledger
// transactions.
package detector

import (
	"log/slog"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/parser"
)

// Detector assembles transactions from messages.
type Detector struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a detector.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger, now: time.Now}
}

// Detect returns the transaction carried by msg. ok is false when the
// message is not a transaction.
//
// Sender trust is only logged. Messages from unrecognised senders are still
// accepted since new UPI intermediaries appear all the time.
func (d *Detector) Detect(msg api.Message) (tx api.Transaction, ok bool) {
	p, rejection := parser.Analyze(msg.Sender, msg.Body)
	if rejection != parser.Accepted {
		d.logger.Debug("sms_filtered", "sender", msg.Sender, "reason", string(rejection))
		return api.Transaction{}, false
	}

	trusted := parser.IsTrusted(msg.Sender)
	if !trusted {
		d.logger.Info("transaction from untrusted sender", "sender", msg.Sender)
	}

	status := api.Pending
	if p.Direction == api.Credit {
		status = api.Confirmed
	}

	tx = api.Transaction{
		Amount:      p.Amount,
		Direction:   p.Direction,
		Merchant:    p.Merchant,
		OccurredAt:  msg.Time(),
		Source:      api.Imported,
		Status:      status,
		CreatedAt:   d.now(),
		Fingerprint: Fingerprint(msg.Sender, msg.Body, msg.Timestamp),
	}

	d.logger.Debug("transaction",
		"amount", tx.Amount.String(),
		"direction", tx.Direction,
		"merchant", tx.Merchant,
		"trusted", trusted,
	)
	return tx, true
}
