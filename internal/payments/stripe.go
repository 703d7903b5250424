// Package payments wraps stripe-go for the fare hold placed when an order
// matches. Payment processing proper lives with the payment collaborator;
// this is only the thin client side of that interface.
package payments

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

type StripeClient struct {
	Currency string

	mu      sync.Mutex
	intents map[string]string // order id -> payment intent id
}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env
// var. Returns nil when the key is absent so callers can skip holds
// entirely.
func NewStripeClient(currency string) *StripeClient {
	key := os.Getenv("STRIPE_API_KEY")
	if key == "" {
		return nil
	}
	stripe.Key = key
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{Currency: currency, intents: make(map[string]string)}
}

// Hold creates a manual-capture PaymentIntent for the fare, in minor units,
// and remembers its id so a later Release can void it.
func (s *StripeClient) Hold(ctx context.Context, orderID string, amount float64) error {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(math.Round(amount * 100))),
		Currency:      stripe.String(s.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.AddMetadata("order_id", orderID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.intents[orderID] = pi.ID
	s.mu.Unlock()
	return nil
}

// Release voids the hold placed for the order. An order with no recorded
// hold is an error so the caller can log the mismatch.
func (s *StripeClient) Release(ctx context.Context, orderID string) error {
	s.mu.Lock()
	piID, ok := s.intents[orderID]
	delete(s.intents, orderID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no fare hold recorded for order %s", orderID)
	}
	_, err := paymentintent.Cancel(piID, nil)
	return err
}
