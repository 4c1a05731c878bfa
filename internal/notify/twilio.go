// Package notify delivers SLA-breach notifications.
//
// This file wraps the Twilio API for SMS delivery of breach alerts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the operator phone number that receives breach alerts.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// Compile-time check that TwilioNotifier implements Notifier.
var _ Notifier = (*TwilioNotifier)(nil)

// TwilioNotifier sends breach alerts as SMS messages via the Twilio REST API.
type TwilioNotifier struct {
	client *twilio.RestClient
	from   string
	to     string
}

// NewTwilioNotifier creates a Twilio-backed notifier. Options missing from
// the call fall back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN,
// TWILIO_FROM_NUMBER and SLA_ALERT_NUMBER environment variables.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("SLA_ALERT_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioNotifier{
		client: client,
		from:   cfg.From,
		to:     cfg.To,
	}, nil
}

// NotifyBreach sends the breach alert as an SMS.
func (n *TwilioNotifier) NotifyBreach(ctx context.Context, breach Breach) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(breach.Message())

	_, err := n.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier.NotifyBreach failed", "error", err, "entityType", breach.EntityType, "entityID", breach.EntityID, "stepKey", breach.StepKey)
		return fmt.Errorf("failed to send breach alert for %s/%s/%s: %w", breach.EntityType, breach.EntityID, breach.StepKey, err)
	}

	slog.Info("TwilioNotifier.NotifyBreach: breach alert sent", "entityType", breach.EntityType, "entityID", breach.EntityID, "stepKey", breach.StepKey)
	return nil
}
