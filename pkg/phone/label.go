package phone

import (
	"github.com/nyaruka/phonenumbers"
)

// defaultRegion is used only for display; canonical digits never depend on it.
const defaultRegion = "US"

// Label renders canonical digits in a human-friendly format: national format for
// North American numbers ((212) 555-1234), international format otherwise.
// Numbers the library cannot parse fall back to their E.164 string.
func Label(digits string) string {
	e164, ok := E164(digits)
	if !ok {
		return ""
	}

	parsed, err := phonenumbers.Parse(e164, defaultRegion)
	if err != nil {
		return e164
	}

	if parsed.GetCountryCode() == 1 && phonenumbers.IsValidNumber(parsed) {
		return phonenumbers.Format(parsed, phonenumbers.NATIONAL)
	}
	if phonenumbers.IsPossibleNumber(parsed) {
		return phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL)
	}
	return e164
}
