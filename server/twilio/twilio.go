package twilio

import (
	"errors"
	"strings"

	"github.com/Daskott/sentinel/shared"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNotConfigured = errors.New("twilio credentials are not configured")

// ClientWrapper is the SMS gateway used for alerts & verification codes.
type ClientWrapper struct {
	client *twilio.RestClient
	config shared.TwilioConfig
}

func NewClient(config shared.TwilioConfig) *ClientWrapper {
	client := twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})

	return &ClientWrapper{
		client: client,
		config: config,
	}
}

// Configured reports whether messages can be sent at all.
func (cw *ClientWrapper) Configured() bool {
	if cw == nil {
		return false
	}

	hasSender := cw.config.MessagingServiceSid != "" || cw.config.FromNumber != ""
	return cw.config.AccountSid != "" && cw.config.AuthToken != "" && hasSender
}

// Send delivers 'body' to 'to' and returns the message sid. An empty 'from'
// falls back to the configured messaging service, then the from number.
func (cw *ClientWrapper) Send(from, to, body string) (string, error) {
	if !cw.Configured() {
		return "", ErrNotConfigured
	}

	resp, err := cw.client.ApiV2010.CreateMessage(cw.messageParams(from, to, body))
	if err != nil {
		return "", err
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return "", errors.New(*resp.ErrorMessage)
	}

	if resp.Sid == nil {
		return "", nil
	}

	return *resp.Sid, nil
}

func (cw *ClientWrapper) messageParams(from, to, body string) *openapi.CreateMessageParams {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetBody(body)

	from = strings.TrimSpace(from)
	switch {
	case from != "":
		params.SetFrom(from)
	case cw.config.MessagingServiceSid != "":
		params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	default:
		params.SetFrom(cw.config.FromNumber)
	}

	return params
}
