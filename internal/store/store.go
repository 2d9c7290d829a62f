// Package store persists trust blocks and the trust-score audit trail.
package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/config"
	"github.com/punchamoorthee/trustledger/internal/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
	ErrClosed   = errors.New("store: closed")
)

// DefaultHistoryLimit bounds TrustHistory when the caller passes no limit.
const DefaultHistoryLimit = 50

// Gateway is the load/save contract the ledger persists through.
type Gateway interface {
	// LoadBlocks returns every stored block in chain order.
	LoadBlocks(ctx context.Context) ([]domain.TrustBlock, error)
	// LoadTrustScores returns the latest score per customer.
	LoadTrustScores(ctx context.Context) (map[string]int, error)
	// SaveBlock appends a block after the last stored one.
	SaveBlock(ctx context.Context, block domain.TrustBlock) error
	// SaveTrustUpdate records a score change and the customer's new score atomically.
	SaveTrustUpdate(ctx context.Context, update domain.TrustUpdate) error
	// TrustHistory returns up to limit updates for a customer, newest first.
	TrustHistory(ctx context.Context, customerID string, limit int) ([]domain.TrustUpdate, error)
	// CustomerTrust returns the stored trust record of a customer.
	CustomerTrust(ctx context.Context, customerID string) (domain.CustomerTrust, error)
	Close() error
}

// Open returns the Gateway selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (Gateway, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case config.BackendMemory:
		logrus.Info("using in-memory store")
		return NewMemoryStore(), nil
	case config.BackendLevelDB:
		logrus.Infof("using leveldb store at %s", cfg.LevelDBPath)
		return NewLevelStore(cfg.LevelDBPath)
	case config.BackendPostgres:
		logrus.Info("using postgres store")
		s, err := NewPostgresStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("store: unknown backend %q", cfg.StoreBackend)
	}
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func formatNonce(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func parseNonce(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
