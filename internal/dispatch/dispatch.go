// Package dispatch delivers order offers to drivers. Delivery is best-effort:
// the orchestrator owns the lease timeout, so a lost offer just expires.
package dispatch

import (
	"context"
	"errors"

	"github.com/example/dispatch-core/internal/models"
)

var ErrNoSession = errors.New("driver has no active session")

// Dispatcher pushes an offer towards the driver's device.
type Dispatcher interface {
	Offer(ctx context.Context, offer models.Offer) error
}

// Fallback tries each dispatcher in turn until one delivers.
type Fallback struct {
	Chain []Dispatcher
}

func (f *Fallback) Offer(ctx context.Context, offer models.Offer) error {
	var lastErr error = ErrNoSession
	for _, d := range f.Chain {
		if d == nil {
			continue
		}
		if err := d.Offer(ctx, offer); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}
