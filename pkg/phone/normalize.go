package phone

import "strings"

// Digits converts any raw phone string into canonical digits-only form.
// Ten-digit numbers are assumed to be North American and get a leading "1".
// Eleven-digit numbers starting with "1" are kept as-is, anything else is
// returned unmodified. ok is false when the input has no digits at all.
func Digits(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	switch {
	case digits == "":
		return "", false
	case len(digits) == 10:
		return "1" + digits, true
	default:
		return digits, true
	}
}

// E164 renders canonical digits as "+" followed by digits.
func E164(digits string) (string, bool) {
	if digits == "" {
		return "", false
	}
	return "+" + digits, true
}

// Normalize returns both canonical forms of raw in one call.
func Normalize(raw string) (digits, e164 string, ok bool) {
	digits, ok = Digits(raw)
	if !ok {
		return "", "", false
	}
	e164, _ = E164(digits)
	return digits, e164, true
}

// DigitsOrEmpty is Digits without the ok flag, for optional counterpart numbers.
func DigitsOrEmpty(raw string) string {
	d, _ := Digits(raw)
	return d
}
