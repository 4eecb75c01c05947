package audit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

// DefaultQueryTimeout mirrors store.DefaultQueryTimeout.
const DefaultQueryTimeout = 30 * time.Second

// PostgresLog persists payment records in Postgres via pgx, grounded on the
// teacher's internal/db/payments.go query-and-scan idiom.
type PostgresLog struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// NewPostgresLog constructs a PostgresLog over an already-connected pool.
func NewPostgresLog(pool *pgxpool.Pool, clock corex.Clock) *PostgresLog {
	return &PostgresLog{pool: pool, nowFunc: clock.Now}
}

func (l *PostgresLog) Append(ctx context.Context, record corex.PaymentRecord, sessionKeyHash [32]byte) (corex.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	record.ID = uuid.NewString()
	record.Timestamp = l.nowFunc()
	record.SessionKeyHash = sessionKeyHash

	amount := record.AmountSmallestUnit
	if amount == nil {
		amount = new(big.Int)
	}

	const q = `
		INSERT INTO payment_records (
			id, timestamp, session_key_hash, recipient, amount_smallest_unit,
			amount_usd, token_symbol_or_addr, chain_id, status, tx_hash, protocol
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := l.pool.Exec(ctx, q,
		record.ID, record.Timestamp.UTC(), sessionKeyHash[:], record.Recipient, amount.String(),
		int64(record.AmountUSD), record.TokenSymbolOrAddr, record.ChainID, string(record.Status),
		record.TxHash, string(record.Protocol),
	)
	if err != nil {
		return corex.PaymentRecord{}, perr.Wrap(perr.KindTransient, 0, "failed to append payment record", true, "", err)
	}
	return record, nil
}

func (l *PostgresLog) Query(ctx context.Context, filter Filter) ([]corex.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	filter = filter.normalized()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ChainID != nil {
		where = append(where, "chain_id = "+arg(*filter.ChainID))
	}
	if filter.SessionKeyHash != nil {
		where = append(where, "session_key_hash = "+arg(filter.SessionKeyHash[:]))
	}
	if filter.StartTime != nil {
		where = append(where, "timestamp >= "+arg(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		where = append(where, "timestamp <= "+arg(filter.EndTime.UTC()))
	}

	q := `SELECT id, timestamp, session_key_hash, recipient, amount_smallest_unit,
	             amount_usd, token_symbol_or_addr, chain_id, status, tx_hash, protocol
	      FROM payment_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, 0, "failed to query payment records", true, "", err)
	}
	defer rows.Close()

	out := make([]corex.PaymentRecord, 0, filter.Limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(perr.KindTransient, 0, "failed to iterate payment records", true, "", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (corex.PaymentRecord, error) {
	var (
		id, recipient, tokenSymbolOrAddr, status, protocol string
		timestamp                                          time.Time
		sessionKeyHash                                      []byte
		amountSmallestUnit                                  string
		amountUSD                                           int64
		chainID                                             int
		txHash                                              *string
	)

	err := row.Scan(
		&id, &timestamp, &sessionKeyHash, &recipient, &amountSmallestUnit,
		&amountUSD, &tokenSymbolOrAddr, &chainID, &status, &txHash, &protocol,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return corex.PaymentRecord{}, perr.New(perr.KindInternal, 0, "payment record not found", false, "")
		}
		return corex.PaymentRecord{}, perr.Wrap(perr.KindTransient, 0, "failed to scan payment record", true, "", err)
	}

	amount, ok := new(big.Int).SetString(amountSmallestUnit, 10)
	if !ok {
		return corex.PaymentRecord{}, perr.New(perr.KindInternal, 0, fmt.Sprintf("stored amount_smallest_unit %q is not a valid integer", amountSmallestUnit), false, "")
	}

	var kh [32]byte
	if len(sessionKeyHash) != 32 {
		return corex.PaymentRecord{}, perr.New(perr.KindInternal, 0, fmt.Sprintf("stored session_key_hash must be 32 bytes, got %d", len(sessionKeyHash)), false, "")
	}
	copy(kh[:], sessionKeyHash)

	return corex.PaymentRecord{
		ID:                 id,
		Timestamp:          timestamp.UTC(),
		SessionKeyHash:     kh,
		Recipient:          recipient,
		AmountSmallestUnit: amount,
		AmountUSD:          corex.Microdollars(amountUSD),
		TokenSymbolOrAddr:  tokenSymbolOrAddr,
		ChainID:            chainID,
		Status:             corex.PaymentStatus(status),
		TxHash:             txHash,
		Protocol:           corex.Protocol(protocol),
	}, nil
}
