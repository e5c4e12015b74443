// Package payments holds trip fares through Stripe PaymentIntents:
// a manual-capture hold at booking, captured on completion or released
// on cancellation.
package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go for the trip fare hold/capture/cancel flow.
type StripeClient struct {
	currency string
}

// NewStripeClient configures the stripe client with the given API key.
// An empty key leaves the package unusable; callers gate on config.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{currency: currency}
}

// Hold creates a manual-capture PaymentIntent for the trip fare and
// returns its ID. The trip ID travels in the intent metadata so holds
// can be reconciled against trips.
func (s *StripeClient) Hold(ctx context.Context, tripID string, amount int64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.AddMetadata("trip_id", tripID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes the held fare after the trip completes.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold when the trip is canceled.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
