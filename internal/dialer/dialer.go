// Package dialer places outbound calls through the telephony provider's REST
// API. The provider fetches call instructions from the webhook URL passed to
// [Dialer.Dial] once the callee answers.
package dialer

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callCreator is the slice of the provider client the dialer uses.
type callCreator interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
}

// Dialer places outbound calls from a fixed caller number.
type Dialer struct {
	api  callCreator
	from string
}

// New returns a Dialer authenticated with the given account credentials.
// Calls originate from fromNumber.
func New(accountSID, authToken, fromNumber string) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Dialer{api: client.Api, from: fromNumber}
}

// Dial places a call to the E.164 number to. The provider requests TwiML from
// webhookURL when the callee answers. Returns the provider's call identifier.
func (d *Dialer) Dial(ctx context.Context, to, webhookURL string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("dialer: destination number is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("dialer: %w", err)
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.from)
	params.SetUrl(webhookURL)

	call, err := d.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("dialer: create call to %s: %w", to, err)
	}
	if call.Sid == nil || *call.Sid == "" {
		return "", fmt.Errorf("dialer: provider returned no call identifier")
	}
	return *call.Sid, nil
}
