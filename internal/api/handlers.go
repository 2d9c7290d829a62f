package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/trustledger/internal/domain"
	"github.com/punchamoorthee/trustledger/internal/models"
	"github.com/punchamoorthee/trustledger/internal/service"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) SubmitTransactionHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.TransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.Amount == nil {
		h.respondError(w, http.StatusUnprocessableEntity, "amount is required", "POST", endpoint)
		return
	}

	tx, err := h.ledger.SubmitTransaction(r.Context(), req.CustomerID, service.TransactionInput{
		Type:               domain.TransactionType(req.Type),
		Amount:             *req.Amount,
		MerchantID:         req.MerchantID,
		Location:           req.Location,
		DeviceFingerprint:  req.DeviceFingerprint,
		FraudIndicators:    req.FraudIndicators,
		VerificationMethod: domain.VerificationMethod(req.VerificationMethod),
	})
	if err != nil {
		h.respondLedgerError(w, err, "POST", endpoint)
		return
	}

	w.Header().Set("Location", "/api/v1/transactions/"+tx.ID+"/proof")
	h.respondJSON(w, http.StatusCreated, models.TransactionResponse{Transaction: tx, Status: "pending"}, "POST", endpoint)
}

func (h *Handler) MineBlockHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/blocks"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	// The body is optional.
	var req models.MineRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	if strings.TrimSpace(req.MinerID) == "" {
		req.MinerID = h.minerID
	}

	ctx := r.Context()
	if h.miningTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.miningTimeout)
		defer cancel()
	}

	block, err := h.ledger.MineBlock(ctx, req.MinerID)
	if err != nil {
		h.respondLedgerError(w, err, "POST", endpoint)
		return
	}

	w.Header().Set("Location", "/api/v1/blocks/"+block.ID)
	h.respondJSON(w, http.StatusCreated, block, "POST", endpoint)
}

func (h *Handler) ListBlocksHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/blocks"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	blocks := h.ledger.Blocks()
	h.respondJSON(w, http.StatusOK, models.BlockList{Height: len(blocks) - 1, Blocks: blocks}, "GET", endpoint)
}

func (h *Handler) GetBlockHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/blocks/{id}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	block, err := h.ledger.Block(mux.Vars(r)["id"])
	if err != nil {
		h.respondLedgerError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, block, "GET", endpoint)
}

func (h *Handler) PendingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/pending"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	pending := h.ledger.Pending()
	h.respondJSON(w, http.StatusOK, models.PendingList{Count: len(pending), Transactions: pending}, "GET", endpoint)
}

func (h *Handler) VerifyChainHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/chain/verify"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	resp := models.VerifyResponse{Valid: true, VerifiedAt: time.Now().UTC()}
	if err := h.ledger.Verify(r.Context()); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	resp.Blocks = len(h.ledger.Blocks())
	h.respondJSON(w, http.StatusOK, resp, "GET", endpoint)
}

func (h *Handler) CustomerTrustHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/customers/{id}/trust"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	ct, err := h.ledger.CustomerTrust(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondLedgerError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, ct, "GET", endpoint)
}

func (h *Handler) TrustHistoryHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/customers/{id}/history"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer", "GET", endpoint)
			return
		}
		limit = n
	}

	id := mux.Vars(r)["id"]
	history, err := h.ledger.TrustHistory(r.Context(), id, limit)
	if err != nil {
		h.respondLedgerError(w, err, "GET", endpoint)
		return
	}
	if history == nil {
		history = []domain.TrustUpdate{}
	}
	h.respondJSON(w, http.StatusOK, models.HistoryResponse{CustomerID: id, History: history}, "GET", endpoint)
}

func (h *Handler) TransactionProofHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/{id}/proof"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	proof, err := h.ledger.TransactionProof(mux.Vars(r)["id"])
	if err != nil {
		h.respondLedgerError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, proof, "GET", endpoint)
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/stats"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	h.respondJSON(w, http.StatusOK, h.ledger.Stats(), "GET", endpoint)
}
