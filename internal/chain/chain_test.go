package chain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)

func testTx(id, customer string, amount float64, indicators ...string) domain.Transaction {
	return domain.Transaction{
		ID:                 id,
		CustomerID:         customer,
		Timestamp:          fixedTime,
		Type:               domain.TypePurchase,
		Amount:             amount,
		MerchantID:         "WALMART-001",
		Location:           "New York, NY",
		DeviceFingerprint:  "iOS-Safari-Trusted",
		TrustScoreBefore:   50,
		TrustScoreAfter:    51,
		FraudIndicators:    indicators,
		VerificationMethod: domain.VerificationStandard,
	}
}

func testTemplate(difficulty int, txs ...domain.Transaction) Template {
	return Template{
		ID:           "block-1",
		PreviousHash: domain.ZeroHash,
		Timestamp:    fixedTime,
		Difficulty:   difficulty,
		MinerID:      "miner-a",
		Transactions: txs,
	}
}

func TestDigest(t *testing.T) {
	// sha256 of the empty string
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Digest(nil); got != want {
		t.Errorf("Digest(nil) = %s, want %s", got, want)
	}
	if got := Digest([]byte("")); got != want {
		t.Errorf("Digest(empty) = %s, want %s", got, want)
	}
}

func TestTransactionDigest_StructurallyEqual(t *testing.T) {
	a := testTx("tx-1", "CUST-001", 89.99)
	b := testTx("tx-1", "CUST-001", 89.99)
	b.Timestamp = fixedTime.In(time.FixedZone("EST", -5*3600))
	if TransactionDigest(a) != TransactionDigest(b) {
		t.Error("equal transactions hashed differently")
	}

	// nil and empty indicator slices encode the same
	a.FraudIndicators = nil
	b.FraudIndicators = []string{}
	if TransactionDigest(a) != TransactionDigest(b) {
		t.Error("nil vs empty fraud indicators hashed differently")
	}
}

func TestTransactionDigest_FieldSensitivity(t *testing.T) {
	base := testTx("tx-1", "CUST-001", 89.99, "new_device")
	baseHash := TransactionDigest(base)

	mutations := map[string]func(*domain.Transaction){
		"id":           func(tx *domain.Transaction) { tx.ID = "tx-2" },
		"customer":     func(tx *domain.Transaction) { tx.CustomerID = "CUST-002" },
		"timestamp":    func(tx *domain.Transaction) { tx.Timestamp = tx.Timestamp.Add(time.Microsecond) },
		"type":         func(tx *domain.Transaction) { tx.Type = domain.TypeReturn },
		"amount":       func(tx *domain.Transaction) { tx.Amount = 90 },
		"merchant":     func(tx *domain.Transaction) { tx.MerchantID = "WALMART-002" },
		"location":     func(tx *domain.Transaction) { tx.Location = "Unknown" },
		"device":       func(tx *domain.Transaction) { tx.DeviceFingerprint = "Unknown-Browser" },
		"score_before": func(tx *domain.Transaction) { tx.TrustScoreBefore = 49 },
		"score_after":  func(tx *domain.Transaction) { tx.TrustScoreAfter = 52 },
		"indicators":   func(tx *domain.Transaction) { tx.FraudIndicators = []string{"new_device", "high_amount"} },
		"verification": func(tx *domain.Transaction) { tx.VerificationMethod = domain.VerificationBiometric },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tx := base.Clone()
			mutate(&tx)
			if TransactionDigest(tx) == baseHash {
				t.Errorf("changing %s did not change the digest", name)
			}
		})
	}
}

func TestMerkleRoot_Empty(t *testing.T) {
	if got, want := MerkleRoot(nil), Digest([]byte{}); got != want {
		t.Errorf("MerkleRoot(nil) = %s, want %s", got, want)
	}
}

func TestMerkleRoot_SingleLeaf(t *testing.T) {
	tx := testTx("tx-1", "CUST-001", 10)
	if got, want := MerkleRoot([]domain.Transaction{tx}), TransactionDigest(tx); got != want {
		t.Errorf("single-leaf root = %s, want leaf hash %s", got, want)
	}
}

func TestMerkleRoot_OddLevelDuplicatesLast(t *testing.T) {
	txs := []domain.Transaction{testTx("a", "C", 1), testTx("b", "C", 2), testTx("c", "C", 3)}
	ha, hb, hc := TransactionDigest(txs[0]), TransactionDigest(txs[1]), TransactionDigest(txs[2])
	want := Digest([]byte(Digest([]byte(ha+hb)) + Digest([]byte(hc+hc))))
	if got := MerkleRoot(txs); got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
}

func TestMerkleRoot_DeterministicAndOrderSensitive(t *testing.T) {
	txs := []domain.Transaction{
		testTx("a", "C1", 1), testTx("b", "C2", 20), testTx("c", "C3", 300),
		testTx("d", "C4", 4000), testTx("e", "C5", 5),
	}
	root := MerkleRoot(txs)
	if again := MerkleRoot(txs); again != root {
		t.Fatalf("root not deterministic: %s vs %s", root, again)
	}

	for i := 0; i < len(txs); i++ {
		for j := i + 1; j < len(txs); j++ {
			swapped := append([]domain.Transaction{}, txs...)
			swapped[i], swapped[j] = swapped[j], swapped[i]
			if MerkleRoot(swapped) == root {
				t.Errorf("swapping %d and %d did not change the root", i, j)
			}
		}
	}

	if MerkleRoot(txs[:4]) == root {
		t.Error("removing a transaction did not change the root")
	}
	if MerkleRoot(append(append([]domain.Transaction{}, txs...), testTx("f", "C6", 6))) == root {
		t.Error("adding a transaction did not change the root")
	}
}

func TestMerkleProof(t *testing.T) {
	for n := 1; n <= 7; n++ {
		var txs []domain.Transaction
		for i := 0; i < n; i++ {
			txs = append(txs, testTx(string(rune('a'+i)), "C", float64(i)))
		}
		root := MerkleRoot(txs)
		for i := 0; i < n; i++ {
			p, err := MerkleProof(txs, i)
			if err != nil {
				t.Fatalf("n=%d i=%d: %v", n, i, err)
			}
			if p.Root != root {
				t.Errorf("n=%d i=%d: proof root %s, want %s", n, i, p.Root, root)
			}
			if !VerifyProof(p, root) {
				t.Errorf("n=%d i=%d: proof does not verify", n, i)
			}
			p.LeafHash = Digest([]byte("forged"))
			if VerifyProof(p, root) {
				t.Errorf("n=%d i=%d: forged leaf verified", n, i)
			}
		}
	}

	if _, err := MerkleProof(nil, 0); !errors.Is(err, ErrProofIndex) {
		t.Errorf("want ErrProofIndex, got %v", err)
	}
}

func TestMeetsDifficulty(t *testing.T) {
	tests := []struct {
		hash       string
		difficulty int
		want       bool
	}{
		{"abc", 0, true},
		{"0abc", 1, true},
		{"00abc", 2, true},
		{"0a0bc", 2, false},
		{"000", 4, false},
		{"abc", -1, true},
	}
	for _, tt := range tests {
		if got := MeetsDifficulty(tt.hash, tt.difficulty); got != tt.want {
			t.Errorf("MeetsDifficulty(%q, %d) = %v, want %v", tt.hash, tt.difficulty, got, tt.want)
		}
	}
}

func TestBlockHeader_NoDelimiters(t *testing.T) {
	b := domain.TrustBlock{
		ID:           "id",
		PreviousHash: "prev",
		Timestamp:    fixedTime,
		MerkleRoot:   "root",
		Nonce:        42,
		Difficulty:   3,
		MinerID:      "miner",
	}
	want := "idprev" + "2024-03-01T12:00:00.123456Z" + "root423miner"
	if got := BlockHeader(b); got != want {
		t.Errorf("BlockHeader = %q, want %q", got, want)
	}
}

func TestSeal_MeetsDifficultyAndRecomputes(t *testing.T) {
	tmpl := testTemplate(2, testTx("a", "C1", 89.99), testTx("b", "C2", 2500, "high_amount"))
	var attempts uint64
	m := &Miner{CheckEvery: 16, Attempts: func(n uint64) { attempts = n }}

	block, err := m.Seal(context.Background(), tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(block.Hash, "00") {
		t.Errorf("hash %s does not meet difficulty 2", block.Hash)
	}
	if block.Hash != BlockHash(*block) {
		t.Error("stored hash does not recompute")
	}
	if block.MerkleRoot != MerkleRoot(tmpl.Transactions) {
		t.Error("merkle root does not match transactions")
	}
	if attempts != block.Nonce+1 {
		t.Errorf("attempts = %d, want nonce+1 = %d", attempts, block.Nonce+1)
	}
}

func TestSeal_Deterministic(t *testing.T) {
	tmpl := testTemplate(2, testTx("a", "C1", 1), testTx("b", "C2", 2))
	first, err := NewMiner().Seal(context.Background(), tmpl)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewMiner().Seal(context.Background(), tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if first.Nonce != second.Nonce || first.Hash != second.Hash {
		t.Errorf("mining not deterministic: (%d, %s) vs (%d, %s)", first.Nonce, first.Hash, second.Nonce, second.Hash)
	}
}

func TestSeal_DoesNotAliasTemplate(t *testing.T) {
	tmpl := testTemplate(0, testTx("a", "C1", 1, "x"))
	block, err := NewMiner().Seal(context.Background(), tmpl)
	if err != nil {
		t.Fatal(err)
	}
	tmpl.Transactions[0].FraudIndicators[0] = "changed"
	if block.Transactions[0].FraudIndicators[0] != "x" {
		t.Error("sealed block shares memory with the template")
	}
}

func TestSeal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Miner{CheckEvery: 1}
	block, err := m.Seal(ctx, testTemplate(MaxDifficulty, testTx("a", "C1", 1)))
	if block != nil {
		t.Fatal("cancelled mining returned a block")
	}
	if !errors.Is(err, ErrMiningCancelled) {
		t.Errorf("want ErrMiningCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled in chain, got %v", err)
	}
}

func TestSeal_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewMiner().Seal(ctx, testTemplate(MaxDifficulty, testTx("a", "C1", 1)))
	if !errors.Is(err, ErrMiningCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want cancelled by deadline, got %v", err)
	}
}

func TestSeal_Rejects(t *testing.T) {
	m := NewMiner()
	if _, err := m.Seal(context.Background(), testTemplate(1)); !errors.Is(err, ErrEmptyPendingQueue) {
		t.Errorf("empty template: want ErrEmptyPendingQueue, got %v", err)
	}
	for _, d := range []int{-1, MaxDifficulty + 1} {
		if _, err := m.Seal(context.Background(), testTemplate(d, testTx("a", "C", 1))); !errors.Is(err, ErrInvalidDifficulty) {
			t.Errorf("difficulty %d: want ErrInvalidDifficulty, got %v", d, err)
		}
	}
}

func TestMineBlock(t *testing.T) {
	if _, err := MineBlock(context.Background(), "m", nil, domain.ZeroHash, 1); !errors.Is(err, ErrEmptyPendingQueue) {
		t.Fatalf("want ErrEmptyPendingQueue, got %v", err)
	}

	block, err := MineBlock(context.Background(), "m", []domain.Transaction{testTx("a", "C", 5)}, domain.ZeroHash, 1)
	if err != nil {
		t.Fatal(err)
	}
	if block.ID == "" || block.PreviousHash != domain.ZeroHash || block.MinerID != "m" {
		t.Errorf("unexpected block %+v", block)
	}
	if block.Timestamp.Nanosecond()%1000 != 0 {
		t.Errorf("timestamp %v not truncated to microseconds", block.Timestamp)
	}
	if !MeetsDifficulty(block.Hash, 1) {
		t.Errorf("hash %s does not meet difficulty 1", block.Hash)
	}
}
