// Package validate holds the stateless checksum and sanity checks applied to
// candidate identifier strings.
//
// Every function takes a raw candidate (formatting characters allowed),
// cleans it, and returns a plain valid/invalid verdict in O(length). No
// function ever panics or returns an error: malformed input is simply
// invalid.
package validate

import "strings"

// clean strips the formatting characters that commonly appear inside
// structured identifiers: spaces, dots, dashes, slashes and the apostrophe
// used as a thousands separator.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '.', '-', '/', '\'', '’':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IBAN verifies an International Bank Account Number using the ISO 13616
// mod-97 check: the first four characters are moved to the end, letters are
// replaced by 10..35, and the resulting number must leave remainder 1.
func IBAN(s string) bool {
	c := strings.ToUpper(clean(s))
	if len(c) < 15 || len(c) > 34 {
		return false
	}
	// Country code (two letters) followed by two check digits.
	if !isLetter(c[0]) || !isLetter(c[1]) || !isDigit(c[2]) || !isDigit(c[3]) {
		return false
	}
	rearranged := c[4:] + c[:4]
	rem := 0
	for i := 0; i < len(rearranged); i++ {
		ch := rearranged[i]
		switch {
		case isDigit(ch):
			rem = (rem*10 + int(ch-'0')) % 97
		case isLetter(ch):
			v := int(ch-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// NationalID verifies a Swiss AVS/AHV number: 13 digits, 756 prefix, and an
// EAN-13 check digit (alternating weights 1 and 3 over the first 12 digits).
func NationalID(s string) bool {
	c := clean(s)
	if len(c) != 13 || !strings.HasPrefix(c, "756") {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		if !isDigit(c[i]) {
			return false
		}
		d := int(c[i] - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += 3 * d
		}
	}
	if !isDigit(c[12]) {
		return false
	}
	check := (10 - sum%10) % 10
	return check == int(c[12]-'0')
}

// uidWeights are the mod-11 weights for the Swiss UID register number.
var uidWeights = [8]int{5, 4, 3, 2, 7, 6, 5, 4}

// TaxID verifies a Swiss UID company identifier (CHE + nine digits) using
// the weighted mod-11 check over the first eight digits. A remainder that
// yields check digit 10 makes the number unassignable, hence invalid.
func TaxID(s string) bool {
	c := strings.ToUpper(clean(s))
	c = strings.TrimPrefix(c, "CHE")
	if len(c) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 8; i++ {
		if !isDigit(c[i]) {
			return false
		}
		sum += uidWeights[i] * int(c[i]-'0')
	}
	if !isDigit(c[8]) {
		return false
	}
	check := 11 - sum%11
	switch check {
	case 10:
		return false
	case 11:
		check = 0
	}
	return check == int(c[8]-'0')
}

// CreditCard verifies a payment card number with the Luhn algorithm.
func CreditCard(s string) bool {
	c := clean(s)
	if len(c) < 12 || len(c) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(c) - 1; i >= 0; i-- {
		if !isDigit(c[i]) {
			return false
		}
		d := int(c[i] - '0')
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

// Phone checks that a phone-shaped match is plausible: 7 to 15 digits after
// stripping formatting, and not a single repeated digit. Repeated-digit
// numbers (e.g. 000 000 00 00) are placeholder data, not reachable numbers.
func Phone(s string) bool {
	digits := 0
	var first byte
	same := true
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !isDigit(ch) {
			continue
		}
		if digits == 0 {
			first = ch
		} else if ch != first {
			same = false
		}
		digits++
	}
	if digits < 7 || digits > 15 {
		return false
	}
	return !same
}

// Any always reports valid. Used by pattern variants that are accepted by
// form alone (masked values, labeled references).
func Any(string) bool { return true }

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
