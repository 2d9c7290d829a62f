package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/models"
	"github.com/punchamoorthee/trustledger/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

type Handler struct {
	ledger        *service.Ledger
	minerID       string
	miningTimeout time.Duration
}

// NewHandler serves ledger. minerID is credited when a mining request names
// no miner; a positive miningTimeout bounds each mining request on top of the
// client's own cancellation.
func NewHandler(ledger *service.Ledger, minerID string, miningTimeout time.Duration) *Handler {
	return &Handler{ledger: ledger, minerID: minerID, miningTimeout: miningTimeout}
}

// NewRouter wires every route, including /health and /metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/transactions", h.SubmitTransactionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{id}/proof", h.TransactionProofHandler).Methods(http.MethodGet)
	v1.HandleFunc("/blocks", h.MineBlockHandler).Methods(http.MethodPost)
	v1.HandleFunc("/blocks", h.ListBlocksHandler).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/{id}", h.GetBlockHandler).Methods(http.MethodGet)
	v1.HandleFunc("/pending", h.PendingHandler).Methods(http.MethodGet)
	v1.HandleFunc("/chain/verify", h.VerifyChainHandler).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{id}/trust", h.CustomerTrustHandler).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{id}/history", h.TrustHistoryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)
	return r
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMalformedTransaction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrEmptyPendingQueue):
		return http.StatusConflict
	case errors.Is(err, service.ErrChainCorruption):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrMiningCancelled):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logrus.WithError(err).Warn("failed to write response body")
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, models.ErrorResponse{Error: msg}, method, endpoint)
}

// respondLedgerError hides internal failures behind a generic message.
func (h *Handler) respondLedgerError(w http.ResponseWriter, err error, method, endpoint string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logrus.WithError(err).Errorf("%s %s failed", method, endpoint)
		h.respondError(w, code, "Internal Server Error", method, endpoint)
		return
	}
	h.respondError(w, code, err.Error(), method, endpoint)
}
