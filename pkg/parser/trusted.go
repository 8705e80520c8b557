package parser

import "strings"

// trustedSenders are the sender codes of banks and UPI apps whose
// notifications are considered genuine.
var trustedSenders = []string{
	// Banks
	"HDFCBK", "SBIINB", "ICICIB", "AXISBK", "KOTAKB", "PNBSMS",
	"CANBNK", "IDFCFB", "YESBNK", "BOBTXN", "INDUSB", "FEDBNK",

	// UPI apps
	"GPAY", "GOOGLEPAY", "PHONEPE", "PAYTM", "AMAZONPAY", "AMZPAY",
}

// IsTrusted reports whether the sender id contains a known bank or UPI
// sender code. Operators prefix codes with routing tags (e.g. "VM-HDFCBK"),
// so the match is a case-insensitive substring match.
func IsTrusted(sender string) bool {
	s := strings.ToUpper(strings.TrimSpace(sender))
	if s == "" {
		return false
	}
	for _, code := range trustedSenders {
		if strings.Contains(s, code) {
			return true
		}
	}
	return false
}
