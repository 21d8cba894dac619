package twilio

import (
	"testing"

	"github.com/Daskott/sentinel/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   shared.TwilioConfig
		expected bool
	}{
		{"empty", shared.TwilioConfig{}, false},
		{"no sender", shared.TwilioConfig{AccountSid: "AC1", AuthToken: "token"}, false},
		{"messaging service", shared.TwilioConfig{AccountSid: "AC1", AuthToken: "token", MessagingServiceSid: "MG1"}, true},
		{"from number", shared.TwilioConfig{AccountSid: "AC1", AuthToken: "token", FromNumber: "+15005550006"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewClient(tc.config).Configured())
		})
	}

	var nilClient *ClientWrapper
	assert.False(t, nilClient.Configured())
}

func TestSendWithoutCredentials(t *testing.T) {
	sid, err := NewClient(shared.TwilioConfig{}).Send("", "+919876543210", "help")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, sid)
}

func TestMessageParamsSender(t *testing.T) {
	cw := NewClient(shared.TwilioConfig{
		AccountSid:          "AC1",
		AuthToken:           "token",
		MessagingServiceSid: "MG1",
		FromNumber:          "+15005550006",
	})

	params := cw.messageParams("+15005550001", "+919876543210", "help")
	require.NotNil(t, params.From)
	assert.Equal(t, "+15005550001", *params.From)
	assert.Nil(t, params.MessagingServiceSid)
	assert.Equal(t, "+919876543210", *params.To)
	assert.Equal(t, "help", *params.Body)

	params = cw.messageParams("", "+919876543210", "help")
	require.NotNil(t, params.MessagingServiceSid)
	assert.Equal(t, "MG1", *params.MessagingServiceSid)
	assert.Nil(t, params.From)

	cw.config.MessagingServiceSid = ""
	params = cw.messageParams("", "+919876543210", "help")
	require.NotNil(t, params.From)
	assert.Equal(t, "+15005550006", *params.From)
}
