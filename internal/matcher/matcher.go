// Package matcher is the dispatch orchestrator: it drives an order from
// arrival through candidate search, scoring, reservation, and driver
// decision to a terminal MATCHED, FAILED, or CANCELLED state.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/dispatch-core/internal/config"
	"github.com/example/dispatch-core/internal/dispatch"
	"github.com/example/dispatch-core/internal/eta"
	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/models"
	"github.com/example/dispatch-core/internal/observability"
	"github.com/example/dispatch-core/internal/pricing"
	"github.com/example/dispatch-core/internal/scoring"
	"github.com/example/dispatch-core/internal/storage"
)

var (
	// ErrValidation marks a malformed match request; it is rejected before
	// matching starts and never retried.
	ErrValidation = errors.New("invalid match request")
	// ErrNoPendingOffer is returned for decisions about offers the
	// orchestrator is not waiting on.
	ErrNoPendingOffer = errors.New("no pending offer for driver")
)

// TripReporter hands a successful match to the trip-lifecycle service, which
// owns the order from there.
type TripReporter interface {
	ReportMatch(ctx context.Context, orderID, driverID string, finalFare float64) error
}

// Notifier informs the rider of the terminal outcome. Fire-and-forget:
// delivery failures are the notification service's concern.
type Notifier interface {
	Notify(ctx context.Context, res models.MatchResult) error
}

// FareHolder places a payment hold for the final fare on a match and
// releases it when the order is cancelled afterwards.
type FareHolder interface {
	Hold(ctx context.Context, orderID string, amount float64) error
	Release(ctx context.Context, orderID string) error
}

type Service struct {
	Geo      geo.Index
	Scorer   *scoring.Scorer
	Pricing  *pricing.Engine
	Orders   storage.OrderStore
	Offers   dispatch.Dispatcher
	ETA      *eta.Estimator
	Trips    TripReporter
	Notify   Notifier
	Payments FareHolder
	Cfg      config.DispatchConfig
	Logger   *slog.Logger

	pending *pendingOffers

	mu     sync.Mutex
	active map[string]chan struct{} // order id -> cancel signal

	now func() time.Time
}

func NewService(g geo.Index, sc *scoring.Scorer, pe *pricing.Engine, orders storage.OrderStore,
	offers dispatch.Dispatcher, est *eta.Estimator, cfg config.DispatchConfig, logger *slog.Logger) *Service {
	return &Service{
		Geo:     g,
		Scorer:  sc,
		Pricing: pe,
		Orders:  orders,
		Offers:  offers,
		ETA:     est,
		Cfg:     cfg,
		Logger:  logger,
		pending: newPendingOffers(),
		active:  make(map[string]chan struct{}),
		now:     time.Now,
	}
}

// Match runs the full matching flow for one order and blocks until the order
// reaches a terminal matching state. Distinct orders match concurrently; the
// only cross-order synchronization is the geo index's reservation CAS.
//
// Replaying an order id that already exists does not block: the caller gets
// the order's current snapshot, which for an in-flight order is the
// non-terminal MATCHING state. Only the first request for an id waits for the
// outcome; replayers poll Get until the session run by that first request
// lands somewhere terminal.
//
// The returned error covers validation and infrastructure problems only.
// FAILED after exhausting candidates is a normal outcome, reported through
// the result status.
func (s *Service) Match(ctx context.Context, req models.MatchRequest) (models.MatchResult, error) {
	if err := validate(req); err != nil {
		return models.MatchResult{}, err
	}

	// replaying a known order returns its current state instead of
	// matching twice
	if existing, err := s.Orders.Get(ctx, req.OrderID); err == nil {
		return resultOf(existing), nil
	}

	now := s.now()
	order := models.Order{
		ID:          req.OrderID,
		Vertical:    req.Vertical,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		VehicleType: req.VehicleType,
		IsPremium:   req.IsPremium,
		RequestedAt: now,
		Status:      models.OrderPending,
		UpdatedAt:   now,
	}
	if err := s.Orders.Create(ctx, &order); err != nil {
		// another request for the same order won the insert; treat this
		// one as a replay of it
		if errors.Is(err, storage.ErrAlreadyExists) {
			return s.snapshot(ctx, order.ID)
		}
		return models.MatchResult{}, fmt.Errorf("create order: %w", err)
	}
	if ok, err := s.Orders.UpdateStatus(ctx, order.ID, models.OrderPending, models.OrderMatching); err != nil || !ok {
		if err != nil {
			return models.MatchResult{}, fmt.Errorf("start matching: %w", err)
		}
		return s.snapshot(ctx, order.ID)
	}

	cancelCh := s.track(order.ID)
	defer s.untrack(order.ID)

	start := s.now()
	res, err := s.runMatch(ctx, req, cancelCh)
	observability.MatchLatency.Observe(s.now().Sub(start).Seconds())
	return res, err
}

func (s *Service) runMatch(ctx context.Context, req models.MatchRequest, cancelCh <-chan struct{}) (models.MatchResult, error) {
	radius := s.Cfg.InitialRadiusMeters

	for attempt := 0; attempt < s.Cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			radius = math.Min(radius*s.Cfg.RadiusGrowth, s.Cfg.MaxRadiusMeters)
			observability.RadiusExpansionsTotal.Inc()
			s.Logger.Debug("radius expanded", "order_id", req.OrderID, "radius_m", radius, "attempt", attempt)
		}

		if s.isCancelled(ctx, req.OrderID) {
			return s.finishCancelled(req.OrderID)
		}

		drivers, err := s.Geo.QueryCandidates(ctx, req.Pickup, radius, req.VehicleType)
		if err != nil {
			s.Logger.Warn("candidate query failed", "order_id", req.OrderID, "error", err)
			continue
		}

		for _, cand := range s.Scorer.Rank(req.Pickup, req.VehicleType, drivers) {
			if s.isCancelled(ctx, req.OrderID) {
				return s.finishCancelled(req.OrderID)
			}

			err := s.Geo.Reserve(ctx, cand.Driver.ID, req.OrderID, s.Cfg.LeaseTTL)
			if errors.Is(err, geo.ErrReservationConflict) {
				// another order got there first; benign, fall through
				observability.ReservationConflictsTotal.Inc()
				continue
			}
			if err != nil {
				s.Logger.Warn("reserve failed", "order_id", req.OrderID, "driver_id", cand.Driver.ID, "error", err)
				continue
			}

			switch s.awaitDecision(ctx, req, cand, cancelCh) {
			case outcomeAccepted:
				res, done, err := s.completeMatch(ctx, req, cand)
				if err != nil {
					return res, err
				}
				if done {
					return res, nil
				}
				// lost the lease between accept and confirm; next candidate
			case outcomeDeclined:
				observability.DriverDeclinesTotal.Inc()
				_ = s.Geo.Release(ctx, cand.Driver.ID, req.OrderID)
			case outcomeExpired:
				observability.LeaseExpiriesTotal.Inc()
				_ = s.Geo.Release(ctx, cand.Driver.ID, req.OrderID)
			case outcomeCancelled:
				_ = s.Geo.Release(ctx, cand.Driver.ID, req.OrderID)
				return s.finishCancelled(req.OrderID)
			case outcomeContextDone:
				_ = s.Geo.Release(ctx, cand.Driver.ID, req.OrderID)
				return models.MatchResult{OrderID: req.OrderID, Status: models.OrderMatching}, ctx.Err()
			}
		}
	}

	return s.finishFailed(ctx, req.OrderID)
}

type offerOutcome int

const (
	outcomeAccepted offerOutcome = iota
	outcomeDeclined
	outcomeExpired
	outcomeCancelled
	outcomeContextDone
)

// awaitDecision pushes the offer and waits for the driver, bounded by the
// lease TTL. A lost or ignored offer simply expires; decline and expiry are
// handled identically by the caller.
func (s *Service) awaitDecision(ctx context.Context, req models.MatchRequest, cand scoring.Candidate, cancelCh <-chan struct{}) offerOutcome {
	ch := s.pending.register(req.OrderID, cand.Driver.ID)
	defer s.pending.drop(req.OrderID)

	offer := models.Offer{
		OrderID:    req.OrderID,
		DriverID:   cand.Driver.ID,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
		Vertical:   req.Vertical,
		ETASeconds: cand.ETASeconds,
		ExpiresAt:  s.now().Add(s.Cfg.LeaseTTL),
	}
	if err := s.Offers.Offer(ctx, offer); err != nil {
		s.Logger.Debug("offer delivery failed", "order_id", req.OrderID, "driver_id", cand.Driver.ID, "error", err)
	}

	timer := time.NewTimer(s.Cfg.LeaseTTL)
	defer timer.Stop()

	select {
	case d := <-ch:
		if d.Accepted {
			return outcomeAccepted
		}
		return outcomeDeclined
	case <-timer.C:
		return outcomeExpired
	case <-cancelCh:
		return outcomeCancelled
	case <-ctx.Done():
		return outcomeContextDone
	}
}

// completeMatch confirms the reservation, prices the order, and records the
// assignment. done=false means the lease was lost before confirmation and
// the caller should move on to the next candidate.
func (s *Service) completeMatch(ctx context.Context, req models.MatchRequest, cand scoring.Candidate) (models.MatchResult, bool, error) {
	if err := s.Geo.Confirm(ctx, cand.Driver.ID, req.OrderID); err != nil {
		if errors.Is(err, geo.ErrReservationConflict) {
			observability.LeaseExpiriesTotal.Inc()
			return models.MatchResult{}, false, nil
		}
		return models.MatchResult{}, false, fmt.Errorf("confirm reservation: %w", err)
	}

	distanceKm := geo.Haversine(req.Pickup, req.Dropoff) / 1000.0
	durationMin := s.ETA.PickupETASeconds(req.Pickup, req.Dropoff) / 60.0
	quote := s.Pricing.Calculate(pricing.Input{
		OrderID:     req.OrderID,
		Vertical:    req.Vertical,
		DistanceKm:  distanceKm,
		DurationMin: durationMin,
		IsPremium:   req.IsPremium,
	})

	ok, err := s.Orders.AssignDriver(ctx, req.OrderID, cand.Driver.ID, &quote)
	if err != nil {
		_ = s.Geo.SetStatus(ctx, cand.Driver.ID, models.DriverAvailable)
		return models.MatchResult{}, false, fmt.Errorf("assign driver: %w", err)
	}
	if !ok {
		// order was cancelled while the driver was accepting; free them
		_ = s.Geo.SetStatus(ctx, cand.Driver.ID, models.DriverAvailable)
		res, err := s.finishCancelled(req.OrderID)
		return res, true, err
	}

	res := models.MatchResult{
		OrderID:  req.OrderID,
		Status:   models.OrderMatched,
		DriverID: cand.Driver.ID,
		Pricing:  &quote,
	}
	observability.MatchesTotal.Inc()
	s.Logger.Info("order matched",
		"order_id", req.OrderID, "driver_id", cand.Driver.ID,
		"score", cand.Score, "final_fare", quote.FinalFare)

	// collaborator handoffs are best-effort; the match stands regardless
	if s.Trips != nil {
		if err := s.Trips.ReportMatch(ctx, req.OrderID, cand.Driver.ID, quote.FinalFare); err != nil {
			s.Logger.Warn("trip handoff failed", "order_id", req.OrderID, "error", err)
		}
	}
	if s.Payments != nil {
		if err := s.Payments.Hold(ctx, req.OrderID, quote.FinalFare); err != nil {
			s.Logger.Warn("fare hold failed", "order_id", req.OrderID, "error", err)
		}
	}
	s.notify(ctx, res)
	return res, true, nil
}

func (s *Service) finishFailed(ctx context.Context, orderID string) (models.MatchResult, error) {
	ok, err := s.Orders.UpdateStatus(ctx, orderID, models.OrderMatching, models.OrderFailed)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("finish order: %w", err)
	}
	if !ok {
		return s.snapshot(ctx, orderID)
	}
	observability.MatchFailuresTotal.Inc()
	s.Logger.Info("order failed, candidates exhausted", "order_id", orderID)
	res := models.MatchResult{OrderID: orderID, Status: models.OrderFailed}
	s.notify(ctx, res)
	return res, nil
}

func (s *Service) finishCancelled(orderID string) (models.MatchResult, error) {
	observability.MatchCancellationsTotal.Inc()
	return models.MatchResult{OrderID: orderID, Status: models.OrderCancelled}, nil
}

/// Cancel is idempotent: it flips any cancellable order to CANCELLED, signals
// the running match session, and frees a driver the order may already hold.
func (s *Service) Cancel(ctx context.Context, orderID string) (models.Order, error) {
	o, transitioned, err := s.Orders.Cancel(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	s.signalCancel(orderID)
	if transitioned && o.DriverID != "" {
		_ = s.Geo.SetStatus(ctx, o.DriverID, models.DriverAvailable)
		if s.Payments != nil {
			if err := s.Payments.Release(ctx, orderID); err != nil {
				s.Logger.Warn("fare release failed", "order_id", orderID, "error", err)
			}
		}
	}
	return o, nil
}

// Get returns the order snapshot.
func (s *Service) Get(ctx context.Context, orderID string) (models.Order, error) {
	return s.Orders.Get(ctx, orderID)
}

// SubmitDecision feeds a driver's accept/decline back to the waiting match
// session.
func (s *Service) SubmitDecision(ctx context.Context, d models.Decision) error {
	if !s.pending.resolve(d) {
		return ErrNoPendingOffer
	}
	return nil
}

func (s *Service) notify(ctx context.Context, res models.MatchResult) {
	if s.Notify == nil {
		return
	}
	if err := s.Notify.Notify(ctx, res); err != nil {
		s.Logger.Debug("notify failed", "order_id", res.OrderID, "error", err)
	}
}

func (s *Service) snapshot(ctx context.Context, orderID string) (models.MatchResult, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return models.MatchResult{}, err
	}
	return resultOf(o), nil
}

func resultOf(o models.Order) models.MatchResult {
	return models.MatchResult{OrderID: o.ID, Status: o.Status, DriverID: o.DriverID, Pricing: o.Pricing}
}

func (s *Service) track(orderID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.active[orderID] = ch
	return ch
}

func (s *Service) untrack(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, orderID)
}

func (s *Service) signalCancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.active[orderID]; ok {
		close(ch)
		delete(s.active, orderID)
	}
}

// isCancelled consults the store so cancellations land even between the
// session's suspension points.
func (s *Service) isCancelled(ctx context.Context, orderID string) bool {
	o, err := s.Orders.Get(ctx, orderID)
	return err == nil && o.Status == models.OrderCancelled
}

func validate(req models.MatchRequest) error {
	if req.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	for _, p := range []models.LatLng{req.Pickup, req.Dropoff} {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrValidation)
		}
	}
	if req.Pickup == req.Dropoff {
		return fmt.Errorf("%w: pickup and dropoff are identical", ErrValidation)
	}
	return nil
}
