// Package contacts builds the list of phone numbers an emergency alert is
// sent to.
package contacts

import (
	"strings"
	"unicode"

	"github.com/Daskott/sentinel/server/models"
)

const (
	DEFAULT_COUNTRY_CODE = "91"

	// E.164 allows at most 15 digits; anything under 8 is not a
	// dialable international number.
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

type Resolver struct {
	emergencyNumber    string
	defaultCountryCode string
}

func NewResolver(emergencyNumber, defaultCountryCode string) *Resolver {
	if defaultCountryCode == "" {
		defaultCountryCode = DEFAULT_COUNTRY_CODE
	}

	return &Resolver{
		emergencyNumber:    emergencyNumber,
		defaultCountryCode: strings.TrimPrefix(defaultCountryCode, "+"),
	}
}

// Resolve returns, in order, the emergency services number, the user's
// emergency contact (if any) and the user's own number. Numbers that fail
// to normalize are dropped and duplicates are kept only once.
func (r *Resolver) Resolve(user *models.User) []string {
	candidates := []string{r.emergencyNumber}
	if user.HasEmergencyContact() {
		candidates = append(candidates, user.EmergencyContactPhone)
	}
	candidates = append(candidates, user.PhoneNumber)

	seen := make(map[string]bool)
	destinations := []string{}
	for _, candidate := range candidates {
		phoneNumber, ok := r.Normalize(candidate)
		if !ok || seen[phoneNumber] {
			continue
		}

		seen[phoneNumber] = true
		destinations = append(destinations, phoneNumber)
	}

	return destinations
}

func (r *Resolver) Normalize(raw string) (string, bool) {
	return NormalizePhoneNumber(raw, r.defaultCountryCode)
}

// NormalizePhoneNumber converts 'raw' to +<digits>. A bare 10 digit number
// is treated as national and gets 'countryCode' prepended.
func NormalizePhoneNumber(raw, countryCode string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) && r <= unicode.MaxASCII {
			digits.WriteRune(r)
		}
	}

	number := digits.String()
	if len(number) == 10 {
		number = countryCode + number
	}

	if len(number) < minPhoneDigits || len(number) > maxPhoneDigits {
		return "", false
	}

	return "+" + number, true
}
