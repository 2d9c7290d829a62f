package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/chain"
	"github.com/punchamoorthee/trustledger/internal/domain"
	"github.com/punchamoorthee/trustledger/internal/store"
	"github.com/punchamoorthee/trustledger/internal/trust"
)

var (
	ErrEmptyPendingQueue    = chain.ErrEmptyPendingQueue
	ErrMiningCancelled      = chain.ErrMiningCancelled
	ErrChainCorruption      = chain.ErrChainCorruption
	ErrPersistence          = errors.New("ledger: persistence failure")
	ErrMalformedTransaction = errors.New("ledger: malformed transaction input")
	ErrNotFound             = errors.New("ledger: not found")
)

// TransactionInput is the caller-supplied part of a transaction. Fraud
// indicators and the verification method come from the external risk scorer.
type TransactionInput struct {
	Type               domain.TransactionType
	Amount             float64
	MerchantID         string
	Location           string
	DeviceFingerprint  string
	FraudIndicators    []string
	VerificationMethod domain.VerificationMethod
}

// Options tune a Ledger. Zero values select production defaults.
type Options struct {
	Difficulty int
	// Clock supplies transaction and block timestamps.
	Clock func() time.Time
	// NewID generates transaction and block ids.
	NewID func() string
	Miner *chain.Miner
}

type txLocation struct {
	block int
	index int
}

// Ledger owns the chain, the pending queue and the per-customer scores.
// Submissions and chain reads go through mu; mineMu admits one miner at a time.
type Ledger struct {
	gateway    store.Gateway
	difficulty int
	clock      func() time.Time
	newID      func() string
	miner      *chain.Miner

	mineMu sync.Mutex

	mu        sync.RWMutex
	blocks    []domain.TrustBlock
	pending   []domain.Transaction
	scores    map[string]int
	txIndex   map[string]txLocation
	corrupted error
}

// NewLedger loads the chain and scores from gateway, creating and persisting
// the genesis block when the store is empty. A loaded chain that fails
// verification leaves the ledger in the corrupted state; it is not repaired.
func NewLedger(ctx context.Context, gateway store.Gateway, opts Options) (*Ledger, error) {
	if opts.Difficulty < 0 || opts.Difficulty > chain.MaxDifficulty {
		return nil, errors.Wrapf(chain.ErrInvalidDifficulty, "difficulty %d", opts.Difficulty)
	}
	l := &Ledger{
		gateway:    gateway,
		difficulty: opts.Difficulty,
		clock:      opts.Clock,
		newID:      opts.NewID,
		miner:      opts.Miner,
		scores:     make(map[string]int),
		txIndex:    make(map[string]txLocation),
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	if l.miner == nil {
		l.miner = &chain.Miner{
			CheckEvery: chain.DefaultCheckEvery,
			Attempts:   func(n uint64) { miningAttempts.Add(float64(n)) },
		}
	}

	blocks, err := gateway.LoadBlocks(ctx)
	if err != nil {
		return nil, persistenceErr(err, "load blocks")
	}
	scores, err := gateway.LoadTrustScores(ctx)
	if err != nil {
		return nil, persistenceErr(err, "load trust scores")
	}
	for id, score := range scores {
		l.scores[id] = score
	}

	if len(blocks) == 0 {
		genesis, err := l.genesisBlock(ctx)
		if err != nil {
			return nil, err
		}
		if err := gateway.SaveBlock(ctx, *genesis); err != nil {
			return nil, persistenceErr(err, "save genesis block")
		}
		blocks = append(blocks, *genesis)
		logrus.WithField("block_hash", genesis.Hash).Info("genesis block created")
	}
	for _, b := range blocks {
		l.appendLocked(b)
	}
	logrus.Infof("loaded %d blocks and %d customer scores", len(l.blocks), len(l.scores))

	if err := chain.VerifyChain(l.blocks); err != nil {
		l.corrupted = err
		logrus.WithError(err).Error("loaded chain failed integrity verification; mining disabled")
	}
	return l, nil
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) genesisBlock(ctx context.Context) (*domain.TrustBlock, error) {
	now := l.now()
	tx := domain.Transaction{
		ID:                 domain.GenesisID,
		CustomerID:         domain.SystemID,
		Timestamp:          now,
		Type:               domain.TypeGenesis,
		Amount:             0,
		MerchantID:         domain.SystemID,
		Location:           domain.SystemID,
		DeviceFingerprint:  domain.SystemID,
		FraudIndicators:    []string{},
		VerificationMethod: domain.VerificationSystem,
	}
	return l.miner.Seal(ctx, chain.Template{
		ID:           domain.GenesisID,
		PreviousHash: domain.ZeroHash,
		Timestamp:    now,
		Difficulty:   0,
		MinerID:      domain.SystemID,
		Transactions: []domain.Transaction{tx},
	})
}

// appendLocked adds a sealed block and indexes its transactions. Callers hold mu
// or have exclusive access.
func (l *Ledger) appendLocked(b domain.TrustBlock) {
	height := len(l.blocks)
	l.blocks = append(l.blocks, b)
	for i, tx := range b.Transactions {
		l.txIndex[tx.ID] = txLocation{block: height, index: i}
	}
}

func persistenceErr(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

func (in TransactionInput) normalize() (TransactionInput, error) {
	if in.Type == "" {
		in.Type = domain.TypePurchase
	}
	if !in.Type.Valid() || in.Type == domain.TypeGenesis {
		return in, errors.Wrapf(ErrMalformedTransaction, "transaction type %q", in.Type)
	}
	if in.VerificationMethod == "" {
		in.VerificationMethod = domain.VerificationStandard
	}
	if !in.VerificationMethod.Valid() || in.VerificationMethod == domain.VerificationSystem {
		return in, errors.Wrapf(ErrMalformedTransaction, "verification method %q", in.VerificationMethod)
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount < 0 {
		return in, errors.Wrapf(ErrMalformedTransaction, "amount %v", in.Amount)
	}
	indicators := make([]string, 0, len(in.FraudIndicators))
	for _, ind := range in.FraudIndicators {
		ind = strings.TrimSpace(ind)
		if ind == "" {
			return in, errors.Wrap(ErrMalformedTransaction, "empty fraud indicator")
		}
		indicators = append(indicators, ind)
	}
	in.FraudIndicators = indicators
	in.MerchantID = orUnknown(in.MerchantID)
	in.Location = orUnknown(in.Location)
	in.DeviceFingerprint = orUnknown(in.DeviceFingerprint)
	return in, nil
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return domain.Unknown
	}
	return s
}

// SubmitTransaction scores and queues a transaction for customerID. The new
// score is persisted to the audit trail and becomes visible immediately,
// before the transaction is mined.
func (l *Ledger) SubmitTransaction(ctx context.Context, customerID string, in TransactionInput) (domain.Transaction, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		submissionsTotal.WithLabelValues("malformed").Inc()
		return domain.Transaction{}, errors.Wrap(ErrMalformedTransaction, "customer id is required")
	}
	if customerID == domain.SystemID {
		submissionsTotal.WithLabelValues("malformed").Inc()
		return domain.Transaction{}, errors.Wrapf(ErrMalformedTransaction, "customer id %q is reserved", customerID)
	}
	in, err := in.normalize()
	if err != nil {
		submissionsTotal.WithLabelValues("malformed").Inc()
		return domain.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.scoreLocked(customerID)
	attrs := trust.Attributes{
		Amount:             in.Amount,
		FraudIndicators:    in.FraudIndicators,
		VerificationMethod: in.VerificationMethod,
		Type:               in.Type,
	}
	adjustments := trust.Adjustments(attrs)
	after := trust.Next(before, attrs)

	ts := l.now()
	if n := len(l.pending); n > 0 && ts.Before(l.pending[n-1].Timestamp) {
		ts = l.pending[n-1].Timestamp
	}

	tx := domain.Transaction{
		ID:                 l.newID(),
		CustomerID:         customerID,
		Timestamp:          ts,
		Type:               in.Type,
		Amount:             in.Amount,
		MerchantID:         in.MerchantID,
		Location:           in.Location,
		DeviceFingerprint:  in.DeviceFingerprint,
		TrustScoreBefore:   before,
		TrustScoreAfter:    after,
		FraudIndicators:    in.FraudIndicators,
		VerificationMethod: in.VerificationMethod,
	}

	update := domain.TrustUpdate{
		CustomerID:    customerID,
		OldScore:      before,
		NewScore:      after,
		Reason:        trust.Reason(adjustments),
		TransactionID: tx.ID,
		Timestamp:     ts,
	}
	if err := l.gateway.SaveTrustUpdate(ctx, update); err != nil {
		submissionsTotal.WithLabelValues("persistence_error").Inc()
		return domain.Transaction{}, persistenceErr(err, "save trust update for "+tx.ID)
	}

	l.pending = append(l.pending, tx)
	l.scores[customerID] = after
	pendingTransactions.Set(float64(len(l.pending)))
	submissionsTotal.WithLabelValues("accepted").Inc()

	logrus.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"customer_id":    customerID,
		"score_before":   before,
		"score_after":    after,
	}).Debug("transaction added to pending pool")
	return tx.Clone(), nil
}

// MineBlock seals the current pending transactions into a new block and
// persists it. Submissions may continue while the nonce search runs; they stay
// pending for the next block. Cancellation or a failed save leaves the chain
// and the pending queue as they were.
func (l *Ledger) MineBlock(ctx context.Context, minerID string) (*domain.TrustBlock, error) {
	l.mineMu.Lock()
	defer l.mineMu.Unlock()

	if minerID = strings.TrimSpace(minerID); minerID == "" {
		minerID = domain.SystemID
	}

	l.mu.RLock()
	if l.corrupted != nil {
		err := l.corrupted
		l.mu.RUnlock()
		blocksMined.WithLabelValues("corrupted").Inc()
		return nil, errors.Wrap(err, "refusing to mine on a corrupted chain")
	}
	if len(l.pending) == 0 {
		l.mu.RUnlock()
		blocksMined.WithLabelValues("empty").Inc()
		return nil, ErrEmptyPendingQueue
	}
	snapshot := make([]domain.Transaction, len(l.pending))
	for i, tx := range l.pending {
		snapshot[i] = tx.Clone()
	}
	tip := l.blocks[len(l.blocks)-1].Hash
	l.mu.RUnlock()

	start := time.Now()
	block, err := l.miner.Seal(ctx, chain.Template{
		ID:           l.newID(),
		PreviousHash: tip,
		Timestamp:    l.now(),
		Difficulty:   l.difficulty,
		MinerID:      minerID,
		Transactions: snapshot,
	})
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ErrMiningCancelled) {
			blocksMined.WithLabelValues("cancelled").Inc()
			logrus.WithError(err).Info("mining cancelled")
		}
		return nil, err
	}

	if err := l.gateway.SaveBlock(ctx, *block); err != nil {
		blocksMined.WithLabelValues("persistence_error").Inc()
		logrus.WithError(err).Errorf("block %s could not be persisted", block.ID)
		return nil, persistenceErr(err, "save block "+block.ID)
	}

	l.mu.Lock()
	l.appendLocked(*block)
	l.pending = append([]domain.Transaction(nil), l.pending[len(snapshot):]...)
	remaining := len(l.pending)
	l.mu.Unlock()

	pendingTransactions.Set(float64(remaining))
	blocksMined.WithLabelValues("sealed").Inc()
	miningDuration.Observe(elapsed.Seconds())
	logrus.WithFields(logrus.Fields{
		"block_id":     block.ID,
		"nonce":        block.Nonce,
		"transactions": len(block.Transactions),
		"difficulty":   block.Difficulty,
		"duration":     elapsed.String(),
	}).Info("block mined")

	out := block.Clone()
	return &out, nil
}

// Verify checks the whole chain: genesis, linkage, hashes and Merkle roots.
// A failure marks the ledger corrupted; a later clean pass clears the mark.
func (l *Ledger) Verify(ctx context.Context) error {
	l.mu.Lock()
	err := chain.VerifyChain(l.blocks)
	l.corrupted = err
	l.mu.Unlock()

	if err != nil {
		integrityChecks.WithLabelValues("invalid").Inc()
		logrus.WithError(err).Error("blockchain integrity check failed")
		return err
	}
	integrityChecks.WithLabelValues("valid").Inc()
	logrus.Debug("blockchain integrity verified")
	return nil
}

// VerifyIntegrity reports whether the chain passes Verify.
func (l *Ledger) VerifyIntegrity(ctx context.Context) bool {
	return l.Verify(ctx) == nil
}

func (l *Ledger) scoreLocked(customerID string) int {
	if s, ok := l.scores[customerID]; ok {
		return s
	}
	return trust.DefaultScore
}

// TrustScore returns the current score of a customer, 50 if never seen.
func (l *Ledger) TrustScore(customerID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scoreLocked(customerID)
}

// CustomerTrust returns the stored trust record, or a default record for an
// unseen customer.
func (l *Ledger) CustomerTrust(ctx context.Context, customerID string) (domain.CustomerTrust, error) {
	ct, err := l.gateway.CustomerTrust(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CustomerTrust{CustomerID: customerID, Score: trust.DefaultScore}, nil
	}
	if err != nil {
		return domain.CustomerTrust{}, persistenceErr(err, "load customer trust")
	}
	return ct, nil
}

// TrustHistory returns up to limit score changes for a customer, newest first.
func (l *Ledger) TrustHistory(ctx context.Context, customerID string, limit int) ([]domain.TrustUpdate, error) {
	history, err := l.gateway.TrustHistory(ctx, customerID, limit)
	if err != nil {
		return nil, persistenceErr(err, "load trust history")
	}
	return history, nil
}

// Blocks returns a copy of the chain.
func (l *Ledger) Blocks() []domain.TrustBlock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.TrustBlock, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = b.Clone()
	}
	return out
}

// Block returns a copy of the block with the given id.
func (l *Ledger) Block(id string) (domain.TrustBlock, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.blocks {
		if b.ID == id {
			return b.Clone(), nil
		}
	}
	return domain.TrustBlock{}, errors.Wrapf(ErrNotFound, "block %s", id)
}

// Tip returns a copy of the last block.
func (l *Ledger) Tip() domain.TrustBlock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].Clone()
}

// Pending returns a copy of the transactions waiting to be mined.
func (l *Ledger) Pending() []domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Transaction, len(l.pending))
	for i, tx := range l.pending {
		out[i] = tx.Clone()
	}
	return out
}

// Difficulty is the number of leading zero hex digits new blocks need.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// Stats summarizes the chain, the pending queue and the known customers.
func (l *Ledger) Stats() domain.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := domain.Stats{
		TotalBlocks:         len(l.blocks),
		PendingTransactions: len(l.pending),
		TotalCustomers:      len(l.scores),
		Difficulty:          l.difficulty,
		Corrupted:           l.corrupted != nil,
	}
	for _, b := range l.blocks {
		stats.TotalTransactions += len(b.Transactions)
	}
	if len(l.scores) > 0 {
		sum := 0
		for _, s := range l.scores {
			sum += s
		}
		stats.AverageTrustScore = float64(sum) / float64(len(l.scores))
	}
	if n := len(l.blocks); n > 0 {
		last := l.blocks[n-1].Timestamp
		stats.LastBlockTime = &last
	}
	return stats
}

// TransactionProof locates a mined transaction and proves its inclusion.
type TransactionProof struct {
	BlockID     string             `json:"block_id"`
	BlockHash   string             `json:"block_hash"`
	Height      int                `json:"height"`
	Transaction domain.Transaction `json:"transaction"`
	Proof       chain.Proof        `json:"proof"`
}

// TransactionProof returns the Merkle inclusion proof of a mined transaction.
func (l *Ledger) TransactionProof(txID string) (TransactionProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loc, ok := l.txIndex[txID]
	if !ok {
		return TransactionProof{}, errors.Wrapf(ErrNotFound, "transaction %s is not in a mined block", txID)
	}
	b := l.blocks[loc.block]
	proof, err := chain.MerkleProof(b.Transactions, loc.index)
	if err != nil {
		return TransactionProof{}, err
	}
	return TransactionProof{
		BlockID:     b.ID,
		BlockHash:   b.Hash,
		Height:      loc.block,
		Transaction: b.Transactions[loc.index].Clone(),
		Proof:       proof,
	}, nil
}
