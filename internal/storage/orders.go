package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/dispatch-core/internal/models"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned by Create when the order id is taken.
	// Without it, two concurrent requests for the same order could both
	// pass the replay check and the second Create would reset the first
	// one's in-flight status.
	ErrAlreadyExists = errors.New("order already exists")
)

// OrderStore persists order snapshots. UpdateStatus and AssignDriver are
// compare-and-swap operations: they succeed only when the stored status still
// matches the expected one, which is what keeps concurrent matching and
// cancellation from trampling each other.
type OrderStore interface {
	// Create inserts a new order; an id already present yields
	// ErrAlreadyExists and leaves the stored order untouched.
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (models.Order, error)

	// UpdateStatus transitions from -> to if the order is currently in
	// from and the transition is allowed. Returns false without error when
	// the CAS loses.
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)

	// AssignDriver records the winning driver and fare while moving
	// MATCHING -> MATCHED in one step.
	AssignDriver(ctx context.Context, id, driverID string, quote *models.Quote) (bool, error)

	// Cancel moves any cancellable order to CANCELLED and returns the
	// resulting snapshot. The bool reports whether this call performed the
	// transition; a repeat cancel returns false, which lets callers run
	// their teardown (freeing the driver, releasing the fare hold) once.
	Cancel(ctx context.Context, id string) (models.Order, bool, error)
}

type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryOrderStore) Create(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryOrderStore) Get(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return *o, nil
}

func (m *MemoryOrderStore) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from || !models.CanTransition(from, to) {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryOrderStore) AssignDriver(ctx context.Context, id, driverID string, quote *models.Quote) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != models.OrderMatching {
		return false, nil
	}
	o.Status = models.OrderMatched
	o.DriverID = driverID
	o.Pricing = quote
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryOrderStore) Cancel(ctx context.Context, id string) (models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, false, ErrNotFound
	}
	transitioned := false
	if models.CanTransition(o.Status, models.OrderCancelled) {
		o.Status = models.OrderCancelled
		o.UpdatedAt = time.Now()
		transitioned = true
	}
	return *o, transitioned, nil
}
