package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/trustledger/internal/chain"
	"github.com/punchamoorthee/trustledger/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	height        BIGINT PRIMARY KEY,
	block_id      TEXT NOT NULL UNIQUE,
	previous_hash TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	merkle_root   TEXT NOT NULL,
	nonce         NUMERIC(20) NOT NULL,
	difficulty    INTEGER NOT NULL,
	miner_id      TEXT NOT NULL,
	block_hash    TEXT NOT NULL,
	transactions  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS customer_trust (
	customer_id       TEXT PRIMARY KEY,
	trust_score       INTEGER NOT NULL,
	transaction_count BIGINT NOT NULL DEFAULT 0,
	last_updated      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_history (
	id             BIGSERIAL PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	old_score      INTEGER NOT NULL,
	new_score      INTEGER NOT NULL,
	change_reason  TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	transaction_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS trust_history_customer_idx ON trust_history (customer_id, id DESC);
`

// PostgresStore persists the ledger in PostgreSQL.
type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse database config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to ping database")
	}

	return &PostgresStore{Db: pool}, nil
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "schema migration failed")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.Db.Close()
	return nil
}

// LoadBlocks returns all blocks ordered by height.
func (s *PostgresStore) LoadBlocks(ctx context.Context) ([]domain.TrustBlock, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT block_id, previous_hash, timestamp, merkle_root, nonce::TEXT, difficulty, miner_id, block_hash, transactions
		 FROM blocks ORDER BY height`)
	if err != nil {
		return nil, errors.Wrap(err, "blocks query failed")
	}
	defer rows.Close()

	var blocks []domain.TrustBlock
	for rows.Next() {
		var (
			b         domain.TrustBlock
			timestamp string
			nonce     string
			txs       []byte
		)
		if err := rows.Scan(&b.ID, &b.PreviousHash, &timestamp, &b.MerkleRoot, &nonce, &b.Difficulty, &b.MinerID, &b.Hash, &txs); err != nil {
			return nil, errors.Wrap(err, "block scan failed")
		}
		if b.Timestamp, err = time.Parse(chain.TimeFormat, timestamp); err != nil {
			return nil, errors.Wrapf(err, "block %s timestamp", b.ID)
		}
		if b.Nonce, err = parseNonce(nonce); err != nil {
			return nil, errors.Wrapf(err, "block %s nonce", b.ID)
		}
		if err := json.Unmarshal(txs, &b.Transactions); err != nil {
			return nil, errors.Wrapf(err, "block %s transactions", b.ID)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return blocks, nil
}

// LoadTrustScores returns every customer's current score.
func (s *PostgresStore) LoadTrustScores(ctx context.Context) (map[string]int, error) {
	rows, err := s.Db.Query(ctx, "SELECT customer_id, trust_score FROM customer_trust")
	if err != nil {
		return nil, errors.Wrap(err, "trust query failed")
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, errors.Wrap(err, "trust scan failed")
		}
		scores[id] = score
	}
	return scores, errors.WithStack(rows.Err())
}

// SaveBlock inserts the block at the next height.
func (s *PostgresStore) SaveBlock(ctx context.Context, block domain.TrustBlock) error {
	txs, err := json.Marshal(block.Transactions)
	if err != nil {
		return errors.Wrapf(err, "encode block %s", block.ID)
	}

	_, err = s.Db.Exec(ctx,
		`INSERT INTO blocks (height, block_id, previous_hash, timestamp, merkle_root, nonce, difficulty, miner_id, block_hash, transactions)
		 VALUES ((SELECT COALESCE(MAX(height), -1) + 1 FROM blocks), $1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9::JSONB)`,
		block.ID, block.PreviousHash, chain.FormatTime(block.Timestamp), block.MerkleRoot,
		formatNonce(block.Nonce), block.Difficulty, block.MinerID, block.Hash, string(txs),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.Wrapf(ErrConflict, "block %s: %s", block.ID, pgErr.Detail)
		}
		return errors.Wrapf(err, "block %s insert failed", block.ID)
	}
	return nil
}

// SaveTrustUpdate upserts the customer's score and appends the history row in one transaction.
func (s *PostgresStore) SaveTrustUpdate(ctx context.Context, update domain.TrustUpdate) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "tx begin failed")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO customer_trust (customer_id, trust_score, transaction_count, last_updated)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (customer_id) DO UPDATE
		 SET trust_score = EXCLUDED.trust_score,
		     transaction_count = customer_trust.transaction_count + 1,
		     last_updated = EXCLUDED.last_updated`,
		update.CustomerID, update.NewScore, update.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "customer trust upsert failed")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trust_history (customer_id, old_score, new_score, change_reason, timestamp, transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		update.CustomerID, update.OldScore, update.NewScore, update.Reason, update.Timestamp, update.TransactionID,
	)
	if err != nil {
		return errors.Wrap(err, "trust history insert failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "tx commit failed")
	}
	return nil
}

// TrustHistory returns the customer's most recent score changes.
func (s *PostgresStore) TrustHistory(ctx context.Context, customerID string, limit int) ([]domain.TrustUpdate, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT customer_id, old_score, new_score, change_reason, timestamp, transaction_id
		 FROM trust_history WHERE customer_id = $1 ORDER BY id DESC LIMIT $2`,
		customerID, historyLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "history query failed")
	}
	defer rows.Close()

	var out []domain.TrustUpdate
	for rows.Next() {
		var u domain.TrustUpdate
		if err := rows.Scan(&u.CustomerID, &u.OldScore, &u.NewScore, &u.Reason, &u.Timestamp, &u.TransactionID); err != nil {
			return nil, errors.Wrap(err, "history scan failed")
		}
		out = append(out, u)
	}
	return out, errors.WithStack(rows.Err())
}

// CustomerTrust retrieves one customer's trust record.
func (s *PostgresStore) CustomerTrust(ctx context.Context, customerID string) (domain.CustomerTrust, error) {
	var ct domain.CustomerTrust
	err := s.Db.QueryRow(ctx,
		"SELECT customer_id, trust_score, transaction_count, last_updated FROM customer_trust WHERE customer_id = $1",
		customerID).Scan(&ct.CustomerID, &ct.Score, &ct.TransactionCount, &ct.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CustomerTrust{}, ErrNotFound
	}
	if err != nil {
		return domain.CustomerTrust{}, errors.Wrap(err, "customer trust query failed")
	}
	return ct, nil
}
