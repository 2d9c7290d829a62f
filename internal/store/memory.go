package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	blocks   []domain.TrustBlock
	blockIDs map[string]struct{}
	trust    map[string]domain.CustomerTrust
	history  map[string][]domain.TrustUpdate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blockIDs: make(map[string]struct{}),
		trust:    make(map[string]domain.CustomerTrust),
		history:  make(map[string][]domain.TrustUpdate),
	}
}

func (s *MemoryStore) LoadBlocks(ctx context.Context) ([]domain.TrustBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.TrustBlock, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.Clone()
	}
	return out, nil
}

func (s *MemoryStore) LoadTrustScores(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	scores := make(map[string]int, len(s.trust))
	for id, ct := range s.trust {
		scores[id] = ct.Score
	}
	return scores, nil
}

func (s *MemoryStore) SaveBlock(ctx context.Context, block domain.TrustBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.blockIDs[block.ID]; ok {
		return errors.Wrapf(ErrConflict, "block %s already stored", block.ID)
	}
	s.blockIDs[block.ID] = struct{}{}
	s.blocks = append(s.blocks, block.Clone())
	return nil
}

func (s *MemoryStore) SaveTrustUpdate(ctx context.Context, update domain.TrustUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ct := s.trust[update.CustomerID]
	ct.CustomerID = update.CustomerID
	ct.Score = update.NewScore
	ct.TransactionCount++
	ct.LastUpdated = update.Timestamp
	s.trust[update.CustomerID] = ct
	s.history[update.CustomerID] = append(s.history[update.CustomerID], update)
	return nil
}

func (s *MemoryStore) TrustHistory(ctx context.Context, customerID string, limit int) ([]domain.TrustUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	all := s.history[customerID]
	limit = historyLimit(limit)
	out := make([]domain.TrustUpdate, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) CustomerTrust(ctx context.Context, customerID string) (domain.CustomerTrust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.CustomerTrust{}, ErrClosed
	}
	ct, ok := s.trust[customerID]
	if !ok {
		return domain.CustomerTrust{}, ErrNotFound
	}
	return ct, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
