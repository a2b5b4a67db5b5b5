package detectors

import (
	"net"
	"strings"
)

// basePatterns are shared by the default recognizers and their validators.
var basePatterns = map[string]string{
	EntityEmailAddress: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	EntityPhoneNumber:  `(?:\+?1[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`,
	EntityUSSSN:        `\b\d{3}-\d{2}-\d{4}\b`,
	EntityCreditCard:   `\b(?:\d{4}[ -]?){3}\d{4}\b`,
}

// DefaultPatternRecognizers returns the built-in pattern recognizers.
func DefaultPatternRecognizers() []PatternRecognizer {
	return []PatternRecognizer{
		{
			Name:     "email",
			Label:    EntityEmailAddress,
			Pattern:  basePatterns[EntityEmailAddress],
			Score:    1.0,
			Validate: validEmail,
			Context:  []string{"email", "mail", "e-mail", "address"},
		},
		{
			Name:    "phone",
			Label:   EntityPhoneNumber,
			Pattern: basePatterns[EntityPhoneNumber],
			Score:   0.75,
			Context: []string{"phone", "number", "telephone", "cell", "cellphone", "mobile", "call", "tel", "fax"},
		},
		{
			Name:     "credit_card",
			Label:    EntityCreditCard,
			Pattern:  basePatterns[EntityCreditCard],
			Score:    1.0,
			Validate: luhnValid,
			Context:  []string{"credit", "card", "visa", "mastercard", "amex", "cc", "payment"},
		},
		{
			Name:     "credit_card_amex",
			Label:    EntityCreditCard,
			Pattern:  `\b3[47]\d{2}[ -]?\d{6}[ -]?\d{5}\b`,
			Score:    1.0,
			Validate: luhnValid,
			Context:  []string{"credit", "card", "amex", "american", "express"},
		},
		{
			Name:     "us_ssn",
			Label:    EntityUSSSN,
			Pattern:  `\b\d{3}[- .]\d{2}[- .]\d{4}\b`,
			Score:    0.5,
			Validate: validSSN,
			Context:  []string{"ssn", "social", "security", "ssid"},
		},
		{
			Name:    "us_itin",
			Label:   EntityUSITIN,
			Pattern: `\b9\d{2}[- ]?(?:5\d|6[0-5]|7\d|8[0-8]|9[0-24-9])[- ]?\d{4}\b`,
			Score:   0.5,
			Context: []string{"itin", "taxpayer", "tax", "individual"},
		},
		{
			Name:    "us_bank_number",
			Label:   EntityUSBankNumber,
			Pattern: `\b\d{8,17}\b`,
			Score:   0.2,
			Context: []string{"bank", "account", "acct", "checking", "savings", "debit", "routing"},
		},
		{
			Name:    "us_passport",
			Label:   EntityUSPassport,
			Pattern: `\b(?:[A-Z]\d{8}|\d{9})\b`,
			Score:   0.2,
			Context: []string{"passport", "travel", "document"},
		},
		{
			Name:    "us_driver_license",
			Label:   EntityUSDriverLicense,
			Pattern: `\b[A-Z]\d{3,8}\b|\b[A-Z]{2}\d{6}[A-Z]?\b`,
			Score:   0.2,
			Context: []string{"driver", "drivers", "license", "licence", "permit", "dl", "lic"},
		},
		{
			Name:     "uk_nhs",
			Label:    EntityUKNHS,
			Pattern:  `\b\d{3}[- ]?\d{3}[- ]?\d{4}\b`,
			Score:    0.5,
			Validate: validNHS,
			Context:  []string{"nhs", "health", "national", "service"},
		},
		{
			Name:     "ipv4",
			Label:    EntityIPAddress,
			Pattern:  `\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`,
			Score:    0.6,
			Validate: validIP,
			Context:  []string{"ip", "ipv4", "address", "host"},
		},
		{
			Name:     "ipv6",
			Label:    EntityIPAddress,
			Pattern:  `(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{1,4}\b`,
			Score:    0.6,
			Validate: validIPv6,
			Context:  []string{"ip", "ipv6", "address", "host"},
		},
		{
			Name:    "date_iso",
			Label:   EntityDateTime,
			Pattern: `\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])(?:[T ](?:[01]\d|2[0-3]):[0-5]\d(?::[0-5]\d)?)?\b`,
			Score:   0.6,
			Context: []string{"date", "birthday", "born", "dob", "on"},
		},
		{
			Name:    "date_numeric",
			Label:   EntityDateTime,
			Pattern: `\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`,
			Score:   0.6,
			Context: []string{"date", "birthday", "born", "dob"},
		},
		{
			Name:    "date_month_name",
			Label:   EntityDateTime,
			Pattern: `(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`,
			Score:   0.6,
			Context: []string{"date", "birthday", "born", "dob"},
		},
		{
			Name:    "date_day_month_name",
			Label:   EntityDateTime,
			Pattern: `(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`,
			Score:   0.6,
			Context: []string{"date", "birthday", "born", "dob"},
		},
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid checks the Luhn checksum of the digits in s.
func luhnValid(s string) bool {
	digits := digitsOnly(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validSSN(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return false
	}
	// mixed delimiters such as 123-45.6789
	if len(s) == 11 && s[3] != s[6] {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return strings.Count(digits, digits[:1]) != len(digits)
}

// validNHS checks the modulus 11 check digit of an NHS number.
func validNHS(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 10 {
		return false
	}
	total := 0
	for i := 0; i < 9; i++ {
		total += int(digits[i]-'0') * (10 - i)
	}
	check := 11 - total%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}
	return check == int(digits[9]-'0')
}

func validIP(s string) bool {
	return net.ParseIP(s) != nil
}

func validIPv6(s string) bool {
	return strings.Contains(s, ":") && net.ParseIP(s) != nil
}

func validEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	if at <= 0 || strings.Contains(s, "..") {
		return false
	}
	for _, label := range strings.Split(s[at+1:], ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}
