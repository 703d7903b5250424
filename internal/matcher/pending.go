package matcher

import (
	"sync"

	"github.com/example/dispatch-core/internal/models"
)

// pendingOffers tracks the single outstanding offer per order while the
// orchestrator waits on the driver. Decisions arriving for a driver who no
// longer holds the offer are rejected.
type pendingOffers struct {
	mu      sync.Mutex
	waiters map[string]*offerWaiter // by order id
}

type offerWaiter struct {
	driverID string
	ch       chan models.Decision
}

func newPendingOffers() *pendingOffers {
	return &pendingOffers{waiters: make(map[string]*offerWaiter)}
}

// register replaces any previous waiter for the order; each candidate
// attempt gets a fresh channel so a late decision for candidate N cannot be
// mistaken for one about candidate N+1.
func (p *pendingOffers) register(orderID, driverID string) <-chan models.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &offerWaiter{driverID: driverID, ch: make(chan models.Decision, 1)}
	p.waiters[orderID] = w
	return w.ch
}

func (p *pendingOffers) drop(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, orderID)
}

func (p *pendingOffers) resolve(d models.Decision) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.waiters[d.OrderID]
	if !ok || w.driverID != d.DriverID {
		return false
	}
	select {
	case w.ch <- d:
	default:
		// already resolved; duplicate decision
	}
	return true
}
