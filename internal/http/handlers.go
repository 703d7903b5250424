package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/matcher"
	"github.com/example/dispatch-core/internal/models"
	"github.com/example/dispatch-core/internal/observability"
	"github.com/example/dispatch-core/internal/storage"
)

// handleMatch blocks until the order is terminal, except on a replayed order
// id: a duplicate POST answers with the order's current snapshot (possibly
// MATCHING) and the client follows up on the GET endpoint.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		req.OrderID = newID()
	}

	res, err := s.Matcher.Match(r.Context(), req)
	switch {
	case errors.Is(err, matcher.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil && r.Context().Err() != nil:
		// client went away mid-match; nothing useful to write
		return
	case err != nil:
		s.logger.Error("match failed", "order_id", req.OrderID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	o, err := s.Matcher.Get(r.Context(), orderID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	o, err := s.Matcher.Cancel(r.Context(), orderID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var d models.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.OrderID = mux.Vars(r)["order_id"]
	if d.DriverID == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}
	if err := s.Matcher.SubmitDecision(r.Context(), d); err != nil {
		if errors.Is(err, matcher.ErrNoPendingOffer) {
			http.Error(w, "no pending offer for this order and driver", http.StatusConflict)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.Geo.UpsertDriver(r.Context(), d); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var up models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if up.DriverID == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}
	observability.LocationUpdatesTotal.Inc()

	// publish to kafka if configured; the consumer applies it to the index
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(up); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", up.DriverID, "error", err)
		}
	}

	err := s.Geo.UpsertLocation(r.Context(), up)
	switch {
	case errors.Is(err, geo.ErrStaleLocation):
		observability.StaleLocationsTotal.Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, geo.ErrUnknownDriver):
		http.Error(w, "unknown driver", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(driverID, conn)

	// read loop: drivers answer offers over the same socket. The request
	// context dies when this handler returns, so the loop uses its own.
	ctx := context.Background()
	go func() {
		defer func() {
			s.WSReg.Remove(driverID, conn)
			_ = conn.Close()
		}()
		for {
			var d models.Decision
			if err := conn.ReadJSON(&d); err != nil {
				return
			}
			d.DriverID = driverID
			if err := s.Matcher.SubmitDecision(ctx, d); err != nil {
				s.logger.Debug("stale decision", "driver_id", driverID, "order_id", d.OrderID)
			}
		}
	}()
}

func orderView(o models.Order) map[string]any {
	v := map[string]any{
		"order_id": o.ID,
		"status":   o.Status,
	}
	if o.DriverID != "" {
		v["driver_id"] = o.DriverID
	}
	if o.Pricing != nil {
		v["pricing"] = o.Pricing
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
