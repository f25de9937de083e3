package services

import "strings"

// NormalizePhone converts a local mobile number into the international digits
// Paystack expects, without a leading "+". "0712345678" becomes
// "254712345678"; a number already carrying the country code is unchanged.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, countryCode):
		return digits
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	default:
		return countryCode + digits
	}
}
