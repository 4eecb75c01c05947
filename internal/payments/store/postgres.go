package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

// DefaultQueryTimeout bounds any single query issued by PostgresStore.
const DefaultQueryTimeout = 30 * time.Second

// PostgresStore persists sessions in Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore over an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, session corex.Session) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const q = `
		INSERT INTO sessions (
			key_hash, encrypted_private_key, public_key,
			daily_limit_usd, per_tx_limit_usd, expires_at, allowed_chain_ids,
			created_at, last_used_at, total_spent_usd, daily_spent_usd, daily_reset_at, tx_count,
			master_key_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (key_hash) DO UPDATE SET
			encrypted_private_key = EXCLUDED.encrypted_private_key,
			daily_limit_usd        = EXCLUDED.daily_limit_usd,
			per_tx_limit_usd       = EXCLUDED.per_tx_limit_usd,
			expires_at             = EXCLUDED.expires_at,
			allowed_chain_ids      = EXCLUDED.allowed_chain_ids,
			last_used_at           = EXCLUDED.last_used_at,
			total_spent_usd        = EXCLUDED.total_spent_usd,
			daily_spent_usd        = EXCLUDED.daily_spent_usd,
			daily_reset_at         = EXCLUDED.daily_reset_at,
			tx_count               = EXCLUDED.tx_count`

	_, err := s.pool.Exec(ctx, q,
		session.KeyHash[:], session.EncPrivateKey, session.PublicKey,
		int64(session.Policy.DailyCapUSD), int64(session.Policy.PerTxCapUSD),
		session.Policy.ExpiresAt.UTC(), session.Policy.AllowedChainIDs,
		session.Ledger.CreatedAt.UTC(), session.Ledger.LastUsedAt.UTC(),
		int64(session.Ledger.TotalSpentUSD), int64(session.Ledger.DailySpentUSD),
		session.Ledger.DailyResetAt.UTC(), session.Ledger.TxCount,
		session.MasterKeyHash[:],
	)
	if err != nil {
		return perr.Wrap(perr.KindTransient, 0, "failed to upsert session", true, "", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, keyHash [32]byte) (corex.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const q = `
		SELECT key_hash, encrypted_private_key, public_key,
		       daily_limit_usd, per_tx_limit_usd, expires_at, allowed_chain_ids,
		       created_at, last_used_at, total_spent_usd, daily_spent_usd, daily_reset_at, tx_count,
		       master_key_hash
		FROM sessions WHERE key_hash = $1`

	row := s.pool.QueryRow(ctx, q, keyHash[:])
	return scanSession(row)
}

func (s *PostgresStore) Delete(ctx context.Context, keyHash [32]byte) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE key_hash = $1`, keyHash[:])
	if err != nil {
		return perr.Wrap(perr.KindTransient, 0, "failed to delete session", true, "", err)
	}
	return nil
}

func (s *PostgresStore) ListByMaster(ctx context.Context, masterKeyHash [32]byte) ([]corex.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const q = `
		SELECT key_hash, encrypted_private_key, public_key,
		       daily_limit_usd, per_tx_limit_usd, expires_at, allowed_chain_ids,
		       created_at, last_used_at, total_spent_usd, daily_spent_usd, daily_reset_at, tx_count,
		       master_key_hash
		FROM sessions WHERE master_key_hash = $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q, masterKeyHash[:])
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, 0, "failed to list sessions for master", true, "", err)
	}
	defer rows.Close()

	var out []corex.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(perr.KindTransient, 0, "failed to iterate sessions", true, "", err)
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (corex.Session, error) {
	var (
		keyHash, masterKeyHash   []byte
		encPrivateKey, publicKey []byte
		dailyLimit, perTxLimit   int64
		expiresAt                time.Time
		allowedChains            []int32
		createdAt, lastUsedAt    time.Time
		totalSpent, dailySpent   int64
		dailyResetAt             time.Time
		txCount                  int64
	)

	err := row.Scan(
		&keyHash, &encPrivateKey, &publicKey,
		&dailyLimit, &perTxLimit, &expiresAt, &allowedChains,
		&createdAt, &lastUsedAt, &totalSpent, &dailySpent, &dailyResetAt, &txCount,
		&masterKeyHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return corex.Session{}, perr.NewSessionInvalid("session not found", nil)
		}
		return corex.Session{}, perr.Wrap(perr.KindTransient, 0, "failed to scan session row", true, "", err)
	}

	chains := make([]int, len(allowedChains))
	for i, c := range allowedChains {
		chains[i] = int(c)
	}

	var kh, mkh [32]byte
	if len(keyHash) != 32 || len(masterKeyHash) != 32 {
		return corex.Session{}, perr.New(perr.KindInternal, 0, fmt.Sprintf("stored key_hash must be 32 bytes, got %d/%d", len(keyHash), len(masterKeyHash)), false, "")
	}
	copy(kh[:], keyHash)
	copy(mkh[:], masterKeyHash)

	return corex.Session{
		KeyHash:       kh,
		EncPrivateKey: encPrivateKey,
		PublicKey:     publicKey,
		Policy: corex.Policy{
			DailyCapUSD:     corex.Microdollars(dailyLimit),
			PerTxCapUSD:     corex.Microdollars(perTxLimit),
			ExpiresAt:       expiresAt.UTC(),
			AllowedChainIDs: chains,
		},
		Ledger: corex.LedgerState{
			CreatedAt:     createdAt.UTC(),
			LastUsedAt:    lastUsedAt.UTC(),
			TotalSpentUSD: corex.Microdollars(totalSpent),
			DailySpentUSD: corex.Microdollars(dailySpent),
			DailyResetAt:  dailyResetAt.UTC(),
			TxCount:       txCount,
		},
		MasterKeyHash: mkh,
	}, nil
}
