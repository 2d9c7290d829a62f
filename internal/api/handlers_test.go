package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/chain"
	"github.com/punchamoorthee/trustledger/internal/domain"
	"github.com/punchamoorthee/trustledger/internal/models"
	"github.com/punchamoorthee/trustledger/internal/service"
	"github.com/punchamoorthee/trustledger/internal/store"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, opts service.Options, timeout time.Duration) (*httptest.Server, *service.Ledger) {
	t.Helper()
	if opts.Difficulty == 0 {
		opts.Difficulty = 1
	}
	ledger, err := service.NewLedger(context.Background(), store.NewMemoryStore(), opts)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(NewHandler(ledger, "node-0", timeout)))
	t.Cleanup(srv.Close)
	return srv, ledger
}

func do(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	var body map[string]string
	if code := do(t, "GET", srv.URL+"/health", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", code, body)
	}
}

func TestSubmitAndMine(t *testing.T) {
	srv, ledger := newTestServer(t, service.Options{}, time.Minute)

	var created models.TransactionResponse
	code := do(t, "POST", srv.URL+"/api/v1/transactions",
		`{"customer_id":"CUST-002","amount":2500,"fraud_indicators":["high_amount","new_device","unusual_location"]}`, &created)
	if code != http.StatusCreated {
		t.Fatalf("submit status = %d", code)
	}
	if created.Transaction.TrustScoreAfter != 33 || created.Status != "pending" {
		t.Errorf("unexpected response %+v", created)
	}

	var pending models.PendingList
	do(t, "GET", srv.URL+"/api/v1/pending", "", &pending)
	if pending.Count != 1 {
		t.Errorf("pending count = %d", pending.Count)
	}

	var block domain.TrustBlock
	if code := do(t, "POST", srv.URL+"/api/v1/blocks", `{"miner_id":"node-7"}`, &block); code != http.StatusCreated {
		t.Fatalf("mine status = %d", code)
	}
	if block.MinerID != "node-7" || len(block.Transactions) != 1 {
		t.Errorf("unexpected block %+v", block)
	}

	var fetched domain.TrustBlock
	if code := do(t, "GET", srv.URL+"/api/v1/blocks/"+block.ID, "", &fetched); code != http.StatusOK || fetched.Hash != block.Hash {
		t.Errorf("get block: %d %s", code, fetched.Hash)
	}

	var list models.BlockList
	do(t, "GET", srv.URL+"/api/v1/blocks", "", &list)
	if list.Height != 1 || len(list.Blocks) != 2 {
		t.Errorf("block list height %d len %d", list.Height, len(list.Blocks))
	}

	var proof service.TransactionProof
	if code := do(t, "GET", srv.URL+"/api/v1/transactions/"+created.Transaction.ID+"/proof", "", &proof); code != http.StatusOK {
		t.Fatalf("proof status = %d", code)
	}
	if !chain.VerifyProof(proof.Proof, block.MerkleRoot) {
		t.Error("served proof does not verify")
	}

	var verify models.VerifyResponse
	do(t, "GET", srv.URL+"/api/v1/chain/verify", "", &verify)
	if !verify.Valid || verify.Blocks != 2 {
		t.Errorf("verify = %+v", verify)
	}

	var ct domain.CustomerTrust
	do(t, "GET", srv.URL+"/api/v1/customers/CUST-002/trust", "", &ct)
	if ct.Score != 33 || ct.TransactionCount != 1 {
		t.Errorf("customer trust = %+v", ct)
	}

	var history models.HistoryResponse
	do(t, "GET", srv.URL+"/api/v1/customers/CUST-002/history?limit=10", "", &history)
	if len(history.History) != 1 || history.History[0].NewScore != 33 {
		t.Errorf("history = %+v", history)
	}

	var stats domain.Stats
	do(t, "GET", srv.URL+"/api/v1/stats", "", &stats)
	if stats.TotalBlocks != ledger.Stats().TotalBlocks || stats.TotalCustomers != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSubmit_Errors(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"customer_id":`, http.StatusBadRequest},
		{"missing amount", `{"customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"missing customer", `{"amount":10}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"customer_id":"c","amount":-5}`, http.StatusUnprocessableEntity},
		{"unknown type", `{"customer_id":"c","amount":5,"transaction_type":"BARTER"}`, http.StatusUnprocessableEntity},
		{"unknown verification", `{"customer_id":"c","amount":5,"verification_method":"PIN"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body models.ErrorResponse
			if code := do(t, "POST", srv.URL+"/api/v1/transactions", tt.body, &body); code != tt.want {
				t.Errorf("status = %d, want %d (%s)", code, tt.want, body.Error)
			}
			if body.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestMine_EmptyQueue(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	if code := do(t, "POST", srv.URL+"/api/v1/blocks", "", nil); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestMine_Timeout(t *testing.T) {
	srv, ledger := newTestServer(t, service.Options{Difficulty: chain.MaxDifficulty}, 20*time.Millisecond)
	if _, err := ledger.SubmitTransaction(context.Background(), "c", service.TransactionInput{Amount: 20}); err != nil {
		t.Fatal(err)
	}
	if code := do(t, "POST", srv.URL+"/api/v1/blocks", "", nil); code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", code)
	}
	if len(ledger.Pending()) != 1 {
		t.Error("timed out mining lost the pending transaction")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	for _, path := range []string{"/api/v1/blocks/nope", "/api/v1/transactions/nope/proof"} {
		if code := do(t, "GET", srv.URL+path, "", nil); code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, code)
		}
	}
}

func TestHistory_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	if code := do(t, "GET", srv.URL+"/api/v1/customers/c/history?limit=abc", "", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Wrap(service.ErrMalformedTransaction, "x"), http.StatusUnprocessableEntity},
		{service.ErrEmptyPendingQueue, http.StatusConflict},
		{errors.Wrap(service.ErrChainCorruption, "x"), http.StatusServiceUnavailable},
		{errors.Mark(context.Canceled, service.ErrMiningCancelled), http.StatusGatewayTimeout},
		{errors.Wrap(service.ErrNotFound, "x"), http.StatusNotFound},
		{errors.Mark(errors.New("db down"), service.ErrPersistence), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, service.Options{}, 0)
	do(t, "GET", srv.URL+"/health", "", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "trustledger_http_requests_total") {
		t.Error("request counter not exported")
	}
}
