package contacts

import (
	"testing"

	"github.com/Daskott/sentinel/server/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhoneNumber(t *testing.T) {
	testCases := []struct {
		description string
		raw         string
		expected    string
		ok          bool
	}{
		{"10 digit national number gets country code", "9876543210", "+919876543210", true},
		{"formatting characters are stripped", "(987) 654-3210", "+919876543210", true},
		{"existing plus is kept", "+91 98765 43210", "+919876543210", true},
		{"international number without plus", "14165550199", "+14165550199", true},
		{"empty number", "", "", false},
		{"no digits", "call me", "", false},
		{"too short", "12345", "", false},
		{"too long", "+1234567890123456", "", false},
	}

	for _, tcase := range testCases {
		t.Run(tcase.description, func(t *testing.T) {
			normalized, ok := NormalizePhoneNumber(tcase.raw, DEFAULT_COUNTRY_CODE)
			assert.Equal(t, tcase.ok, ok)
			assert.Equal(t, tcase.expected, normalized)
		})
	}
}

func TestResolve(t *testing.T) {
	resolver := NewResolver("+911123978046", "")

	testCases := []struct {
		description string
		user        models.User
		expected    []string
	}{
		{
			description: "emergency services, emergency contact, then own number",
			user: models.User{
				PhoneNumber:           "+14165550199",
				EmergencyContactPhone: "9876543210",
			},
			expected: []string{"+911123978046", "+919876543210", "+14165550199"},
		},
		{
			description: "no emergency contact",
			user:        models.User{PhoneNumber: "+14165550199"},
			expected:    []string{"+911123978046", "+14165550199"},
		},
		{
			description: "malformed emergency contact is dropped",
			user: models.User{
				PhoneNumber:           "+14165550199",
				EmergencyContactPhone: "n/a",
			},
			expected: []string{"+911123978046", "+14165550199"},
		},
		{
			description: "emergency contact equal to own number is sent once",
			user: models.User{
				PhoneNumber:           "+919876543210",
				EmergencyContactPhone: "98765 43210",
			},
			expected: []string{"+911123978046", "+919876543210"},
		},
	}

	for _, tcase := range testCases {
		t.Run(tcase.description, func(t *testing.T) {
			assert.Equal(t, tcase.expected, resolver.Resolve(&tcase.user))
		})
	}
}

func TestResolveWithMalformedEmergencyServicesNumber(t *testing.T) {
	resolver := NewResolver("", "91")
	user := models.User{PhoneNumber: "9876543210"}

	assert.Equal(t, []string{"+919876543210"}, resolver.Resolve(&user))
}
