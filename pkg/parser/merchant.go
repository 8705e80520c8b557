package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxMerchantLen bounds every merchant name extracted from a message body.
const maxMerchantLen = 40

// senderMerchants maps exact sender codes to display names.
var senderMerchants = map[string]string{
	// Banks
	"CANBNK":     "Canara Bank",
	"HDFCBK":     "HDFC Bank",
	"HDFC":       "HDFC Bank",
	"ICIBK":      "ICICI Bank",
	"ICICI":      "ICICI Bank",
	"AXISBNK":    "Axis Bank",
	"AXIS":       "Axis Bank",
	"INDBNK":     "IndusInd Bank",
	"YESBNK":     "YES Bank",
	"KOTAK":      "Kotak Bank",
	"SBIBANK":    "SBI Bank",
	"SBI":        "SBI Bank",
	"BARODAMPAY": "Baroda Bank",
	"PUBANK":     "Punjab National Bank",
	"IDBI":       "IDBI Bank",
	"FEDERAL":    "Federal Bank",
	"HSBC":       "HSBC Bank",
	"CITI":       "Citibank",

	// Wallets and UPI apps
	"PAYTM":     "PayTM",
	"GOOGL":     "Google Pay",
	"PHONEPE":   "PhonePe",
	"AMAZONPAY": "Amazon Pay",
	"WHATSAPP":  "WhatsApp Pay",
	"BHIM":      "BHIM UPI",

	// Payment gateways
	"RAZORPAY":  "Razorpay",
	"INSTAMOJO": "Instamojo",
	"CASHFREE":  "Cashfree",

	// Insurance and finance
	"ICICIPRUI": "ICICI Prudential",
	"HDFCLIFE":  "HDFC Life",
	"SBILY":     "SBI Life",
	"AXISVISA":  "Axis Bank",
	"IRDAI":     "Insurance Co",

	// Merchants
	"FLIPKART": "Flipkart",
	"AMAZON":   "Amazon",
	"SWIGGY":   "Swiggy",
	"ZOMATO":   "Zomato",
	"NETFLIX":  "Netflix",
	"OYO":      "OYO Rooms",

	// Telecom
	"AIRTEL":   "Airtel",
	"JIOTELE":  "Jio (Reliance)",
	"BSNL":     "BSNL",
	"VODAFONE": "Vodafone",
}

var (
	institutionRe   = regexp.MustCompile(`(?i)[.-]\s*([a-z\s&']+?(?:bank|ltd|inc|corp|limited|canara|hdfc|icici|axis|indusind))\s*(?:[.\s]|$)`)
	trailingRe      = regexp.MustCompile(`(?s)[.\n].*$`)
	upiAppRe        = regexp.MustCompile(`paytm|googlepay|phonepe|gpay|amazonpay|whatsapp`)
	transferWordRe  = regexp.MustCompile(`salary|dividend|bonus|refund|transfer|payment`)
	accountHolderRe = regexp.MustCompile(`debit(?:ed)?\s+to\s+([a-z\s]+?)\s+(?:a/c|account|on|\d)`)
)

// segmentDelimiters end a merchant segment. They are applied in order.
var segmentDelimiters = []string{".", ",", "\n", "-", "via", "for", "on ", "at ", "dial", "call"}

// ownAccountPrefixes mark segments that name the account holder's own
// account rather than a counterparty.
var ownAccountPrefixes = []string{"your", "account", "a/c"}

// MerchantForSender returns the registered merchant for an exact sender code.
func MerchantForSender(sender string) (string, bool) {
	m, ok := senderMerchants[strings.ToUpper(strings.TrimSpace(sender))]
	return m, ok
}

// ResolveMerchant maps a sender code or message body to a merchant name.
// It returns "" when no merchant can be determined.
func ResolveMerchant(sender, body string) string {
	if m, ok := MerchantForSender(sender); ok {
		return m
	}
	return merchantFromBody(body)
}

func merchantFromBody(body string) string {
	lower := strings.ToLower(body)

	// "6,028.57.- Canara Bank" or "fraud - Canara Bank"
	if m := institutionRe.FindStringSubmatch(lower); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" && len(name) <= maxMerchantLen {
			return titleCase(name)
		}
	}

	if name := institutionSegment(lower); name != "" {
		return titleCase(name)
	}

	for _, marker := range []string{" at ", " to ", " from "} {
		_, after, found := strings.Cut(lower, marker)
		if !found {
			continue
		}
		if seg := merchantSegment(after); seg != "" && !ownAccount(seg) {
			return titleCase(seg)
		}
	}

	if app := upiAppRe.FindString(lower); app != "" {
		return titleCase(app)
	}

	if word := transferWordRe.FindString(lower); word != "" {
		return titleCase(word)
	}

	if strings.Contains(lower, " atm ") || strings.Contains(lower, "withdrawal") {
		return "ATM Withdrawal"
	}

	if m := accountHolderRe.FindStringSubmatch(lower); m != nil {
		name := strings.TrimSpace(m[1])
		if len(name) >= 2 && len(name) <= 30 && !ownAccount(name) {
			return titleCase(name)
		}
	}

	return ""
}

// institutionSegment splits on ".- " (or " - ") and returns the last part
// that names a bank or company.
func institutionSegment(lower string) string {
	sep := ".- "
	if !strings.Contains(lower, sep) {
		sep = " - "
		if !strings.Contains(lower, sep) {
			return ""
		}
	}

	parts := strings.Split(lower, sep)
	for i := len(parts) - 1; i >= 0; i-- {
		part := strings.TrimSpace(parts[i])
		if !strings.Contains(part, "bank") && !strings.Contains(part, "ltd") && !strings.Contains(part, "corp") {
			continue
		}
		name := strings.TrimSpace(trailingRe.ReplaceAllString(part, ""))
		if len(name) > 2 && len(name) <= maxMerchantLen {
			return name
		}
	}
	return ""
}

// merchantSegment trims text at the first delimiter that ends a merchant name.
func merchantSegment(text string) string {
	seg := strings.TrimSpace(text)
	for _, d := range segmentDelimiters {
		if before, _, found := strings.Cut(seg, d); found {
			seg = strings.TrimSpace(before)
		}
	}
	if r := []rune(seg); len(r) > maxMerchantLen {
		seg = string(r[:maxMerchantLen])
	}
	return strings.TrimSpace(seg)
}

func ownAccount(seg string) bool {
	for _, p := range ownAccountPrefixes {
		if strings.HasPrefix(seg, p) {
			return true
		}
	}
	return false
}

// titleCase upper-cases the first character of every whitespace separated
// word and lower-cases the rest, collapsing runs of whitespace. Punctuation
// and digits inside a word do not start a new word.
func titleCase(s string) string {
	upper, lower := cases.Upper(language.Und), cases.Lower(language.Und)
	words := strings.Fields(s)
	for i, w := range words {
		_, size := utf8.DecodeRuneInString(w)
		words[i] = upper.String(w[:size]) + lower.String(w[size:])
	}
	return strings.Join(words, " ")
}
