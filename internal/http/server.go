package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/dispatch-core/internal/dispatch"
	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/ingest"
	"github.com/example/dispatch-core/internal/models"
)

// MatchService is the orchestrator surface the handlers need.
type MatchService interface {
	Match(ctx context.Context, req models.MatchRequest) (models.MatchResult, error)
	Cancel(ctx context.Context, orderID string) (models.Order, error)
	Get(ctx context.Context, orderID string) (models.Order, error)
	SubmitDecision(ctx context.Context, d models.Decision) error
}

type Server struct {
	Matcher MatchService
	Geo     geo.Index
	Kafka   *ingest.KafkaProducer
	WSReg   *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(m MatchService, g geo.Index, kp *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Matcher: m, Geo: g, Kafka: kp, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/match", s.handleMatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/match/{order_id}", s.handleGetMatch).Methods("GET")
	s.mux.HandleFunc("/api/v1/match/{order_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/match/{order_id}/decision", s.handleDecision).Methods("POST")

	s.mux.HandleFunc("/internal/drivers", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
