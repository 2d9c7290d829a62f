package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

// Key layout:
//
//	b/<height>               block JSON, height zero-padded so keys sort in chain order
//	i/<block id>             height of the block
//	s/<hex customer>         CustomerTrust JSON
//	h/<hex customer>/<seq>   TrustUpdate JSON, seq = customer's transaction count
var (
	blockPrefix   = []byte("b/")
	blockIDPrefix = []byte("i/")
	scorePrefix   = []byte("s/")
	historyPrefix = []byte("h/")
)

// LevelStore persists the ledger in a LevelDB directory.
type LevelStore struct {
	// mu serializes writers so heights and sequence numbers stay dense.
	mu     sync.Mutex
	db     *leveldb.DB
	height uint64
}

func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	s := &LevelStore{db: db}

	iter := db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		s.height++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	logrus.Debugf("leveldb store at %s holds %d blocks", path, s.height)
	return s, nil
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, height))
}

func blockIDKey(id string) []byte {
	return append(append([]byte{}, blockIDPrefix...), id...)
}

func scoreKey(customerID string) []byte {
	return []byte(string(scorePrefix) + hex.EncodeToString([]byte(customerID)))
}

func historyCustomerPrefix(customerID string) []byte {
	return []byte(string(historyPrefix) + hex.EncodeToString([]byte(customerID)) + "/")
}

func historyKey(customerID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", historyCustomerPrefix(customerID), seq))
}

func levelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return errors.WithStack(err)
}

func (s *LevelStore) LoadBlocks(ctx context.Context) ([]domain.TrustBlock, error) {
	var blocks []domain.TrustBlock
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		var b domain.TrustBlock
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, errors.Wrapf(err, "decode block at key %s", iter.Key())
		}
		blocks = append(blocks, b)
	}
	if err := iter.Error(); err != nil {
		return nil, levelErr(err)
	}
	return blocks, nil
}

func (s *LevelStore) LoadTrustScores(ctx context.Context) (map[string]int, error) {
	scores := make(map[string]int)
	iter := s.db.NewIterator(util.BytesPrefix(scorePrefix), nil)
	defer iter.Release()
	for iter.Next() {
		var ct domain.CustomerTrust
		if err := json.Unmarshal(iter.Value(), &ct); err != nil {
			return nil, errors.Wrapf(err, "decode trust at key %s", iter.Key())
		}
		scores[ct.CustomerID] = ct.Score
	}
	if err := iter.Error(); err != nil {
		return nil, levelErr(err)
	}
	return scores, nil
}

func (s *LevelStore) SaveBlock(ctx context.Context, block domain.TrustBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Get(blockIDKey(block.ID), nil)
	if err == nil {
		return errors.Wrapf(ErrConflict, "block %s already stored", block.ID)
	}
	if !errors.Is(err, leveldb.ErrNotFound) {
		return levelErr(err)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return errors.Wrapf(err, "encode block %s", block.ID)
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(s.height), data)
	batch.Put(blockIDKey(block.ID), []byte(fmt.Sprintf("%d", s.height)))
	if err := s.db.Write(batch, nil); err != nil {
		return levelErr(err)
	}
	s.height++
	return nil
}

func (s *LevelStore) SaveTrustUpdate(ctx context.Context, update domain.TrustUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, err := s.customerTrust(update.CustomerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	ct.CustomerID = update.CustomerID
	ct.Score = update.NewScore
	ct.TransactionCount++
	ct.LastUpdated = update.Timestamp

	trustData, err := json.Marshal(ct)
	if err != nil {
		return errors.WithStack(err)
	}
	updateData, err := json.Marshal(update)
	if err != nil {
		return errors.WithStack(err)
	}

	batch := new(leveldb.Batch)
	batch.Put(scoreKey(update.CustomerID), trustData)
	batch.Put(historyKey(update.CustomerID, ct.TransactionCount), updateData)
	if err := s.db.Write(batch, nil); err != nil {
		return levelErr(err)
	}
	return nil
}

func (s *LevelStore) TrustHistory(ctx context.Context, customerID string, limit int) ([]domain.TrustUpdate, error) {
	limit = historyLimit(limit)
	var out []domain.TrustUpdate
	iter := s.db.NewIterator(util.BytesPrefix(historyCustomerPrefix(customerID)), nil)
	defer iter.Release()
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var u domain.TrustUpdate
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, errors.Wrapf(err, "decode history at key %s", iter.Key())
		}
		out = append(out, u)
	}
	if err := iter.Error(); err != nil {
		return nil, levelErr(err)
	}
	return out, nil
}

func (s *LevelStore) CustomerTrust(ctx context.Context, customerID string) (domain.CustomerTrust, error) {
	return s.customerTrust(customerID)
}

func (s *LevelStore) customerTrust(customerID string) (domain.CustomerTrust, error) {
	data, err := s.db.Get(scoreKey(customerID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return domain.CustomerTrust{}, ErrNotFound
	}
	if err != nil {
		return domain.CustomerTrust{}, levelErr(err)
	}
	var ct domain.CustomerTrust
	if err := json.Unmarshal(data, &ct); err != nil {
		return domain.CustomerTrust{}, errors.Wrapf(err, "decode trust for %s", customerID)
	}
	return ct, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
