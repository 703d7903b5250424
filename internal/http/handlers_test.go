package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/dispatch-core/internal/dispatch"
	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/matcher"
	"github.com/example/dispatch-core/internal/models"
	"github.com/example/dispatch-core/internal/storage"
)

// fakeMatcher answers from canned state instead of running a real match.
type fakeMatcher struct {
	orders    map[string]models.Order
	matchErr  error
	decisions []models.Decision
}

func (f *fakeMatcher) Match(ctx context.Context, req models.MatchRequest) (models.MatchResult, error) {
	if f.matchErr != nil {
		return models.MatchResult{}, f.matchErr
	}
	return models.MatchResult{OrderID: req.OrderID, Status: models.OrderMatched, DriverID: "d1"}, nil
}

func (f *fakeMatcher) Cancel(ctx context.Context, orderID string) (models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, storage.ErrNotFound
	}
	o.Status = models.OrderCancelled
	return o, nil
}

func (f *fakeMatcher) Get(ctx context.Context, orderID string) (models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, storage.ErrNotFound
	}
	return o, nil
}

func (f *fakeMatcher) SubmitDecision(ctx context.Context, d models.Decision) error {
	if len(f.orders) == 0 {
		return matcher.ErrNoPendingOffer
	}
	f.decisions = append(f.decisions, d)
	return nil
}

func newTestServer(fm *fakeMatcher) (*Server, *geo.MemoryIndex) {
	idx := geo.NewMemoryIndex()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(fm, idx, nil, dispatch.NewWSRegistry(), logger), idx
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHandleMatch(t *testing.T) {
	s, _ := newTestServer(&fakeMatcher{})

	w := doJSON(t, s, "POST", "/api/v1/match", models.MatchRequest{
		OrderID:  "o1",
		Vertical: models.VerticalRide,
		Pickup:   models.LatLng{Lat: 1},
		Dropoff:  models.LatLng{Lat: 2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	var res models.MatchResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OrderID != "o1" || res.Status != models.OrderMatched || res.DriverID != "d1" {
		t.Fatalf("result: %+v", res)
	}
}

func TestHandleMatchValidationError(t *testing.T) {
	fm := &fakeMatcher{matchErr: fmt.Errorf("%w: bad coords", matcher.ErrValidation)}
	s, _ := newTestServer(fm)

	w := doJSON(t, s, "POST", "/api/v1/match", models.MatchRequest{OrderID: "o1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestHandleMatchBadJSON(t *testing.T) {
	s, _ := newTestServer(&fakeMatcher{})
	req := httptest.NewRequest("POST", "/api/v1/match", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestHandleGetMatch(t *testing.T) {
	fm := &fakeMatcher{orders: map[string]models.Order{
		"o1": {ID: "o1", Status: models.OrderMatched, DriverID: "d1"},
	}}
	s, _ := newTestServer(fm)

	w := doJSON(t, s, "GET", "/api/v1/match/o1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body map[string]any
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["order_id"] != "o1" || body["status"] != "MATCHED" || body["driver_id"] != "d1" {
		t.Fatalf("body: %v", body)
	}

	if w := doJSON(t, s, "GET", "/api/v1/match/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", w.Code)
	}
}

func TestHandleCancel(t *testing.T) {
	fm := &fakeMatcher{orders: map[string]models.Order{
		"o1": {ID: "o1", Status: models.OrderMatching},
	}}
	s, _ := newTestServer(fm)

	w := doJSON(t, s, "POST", "/api/v1/match/o1/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body map[string]any
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "CANCELLED" {
		t.Fatalf("body: %v", body)
	}

	if w := doJSON(t, s, "POST", "/api/v1/match/missing/cancel", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", w.Code)
	}
}

func TestHandleDecision(t *testing.T) {
	fm := &fakeMatcher{orders: map[string]models.Order{"o1": {ID: "o1"}}}
	s, _ := newTestServer(fm)

	w := doJSON(t, s, "POST", "/api/v1/match/o1/decision", models.Decision{DriverID: "d1", Accepted: true})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if len(fm.decisions) != 1 || fm.decisions[0].OrderID != "o1" || !fm.decisions[0].Accepted {
		t.Fatalf("decisions: %+v", fm.decisions)
	}

	// driver id is mandatory
	if w := doJSON(t, s, "POST", "/api/v1/match/o1/decision", models.Decision{Accepted: true}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing driver: %d", w.Code)
	}
}

func TestHandleDecisionNoPendingOffer(t *testing.T) {
	s, _ := newTestServer(&fakeMatcher{})
	w := doJSON(t, s, "POST", "/api/v1/match/o1/decision", models.Decision{DriverID: "d1", Accepted: true})
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestHandleRegisterDriverAndLocation(t *testing.T) {
	s, idx := newTestServer(&fakeMatcher{})

	d := models.Driver{ID: "d1", Location: models.LatLng{Lat: 1, Lon: 1}, VehicleType: models.VehicleEconomy}
	if w := doJSON(t, s, "POST", "/internal/drivers", d); w.Code != http.StatusNoContent {
		t.Fatalf("register: %d", w.Code)
	}
	if w := doJSON(t, s, "POST", "/internal/drivers", models.Driver{}); w.Code != http.StatusBadRequest {
		t.Fatalf("register without id: %d", w.Code)
	}

	now := time.Now()
	up := models.LocationUpdate{DriverID: "d1", Lat: 2, Lon: 2, Timestamp: now}
	if w := doJSON(t, s, "POST", "/internal/driver/locations", up); w.Code != http.StatusNoContent {
		t.Fatalf("location: %d", w.Code)
	}
	if got, _ := idx.Snapshot("d1"); got.Location.Lat != 2 {
		t.Fatalf("location not applied: %+v", got.Location)
	}

	// stale updates are swallowed, not surfaced to the device
	stale := models.LocationUpdate{DriverID: "d1", Lat: 9, Lon: 9, Timestamp: now.Add(-time.Minute)}
	if w := doJSON(t, s, "POST", "/internal/driver/locations", stale); w.Code != http.StatusNoContent {
		t.Fatalf("stale location: %d", w.Code)
	}
	if got, _ := idx.Snapshot("d1"); got.Location.Lat != 2 {
		t.Fatalf("stale update moved the driver: %+v", got.Location)
	}

	unknown := models.LocationUpdate{DriverID: "ghost", Timestamp: now}
	if w := doJSON(t, s, "POST", "/internal/driver/locations", unknown); w.Code != http.StatusNotFound {
		t.Fatalf("unknown driver: %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(&fakeMatcher{})

	w := doJSON(t, s, "GET", "/healthz", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("response missing generated X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("caller request id not echoed: %q", got)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(&fakeMatcher{})
	if w := doJSON(t, s, "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}
