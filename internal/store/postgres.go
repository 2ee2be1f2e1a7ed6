package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/escrow"
	"github.com/minerush/economy/internal/ledger"
	"github.com/minerush/economy/internal/metrics"
)

//go:embed schema.sql
var schema string

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const maxAttempts = 3

// PostgresRunner runs each unit of work in one read-committed transaction.
// Row locks (FOR UPDATE) and conditional updates provide per-row
// serialization; serialization failures and deadlocks are retried.
type PostgresRunner struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRunner constructs a runner over the pool.
func NewPostgresRunner(db *pgxpool.Pool, logger *slog.Logger) *PostgresRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRunner{db: db, logger: logger}
}

// Do executes fn inside a transaction, retrying on transient conflicts.
func (r *PostgresRunner) Do(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = r.once(ctx, fn)
		if err == nil || !isConflict(err) || attempt == maxAttempts {
			break
		}
		metrics.TxRetries.Inc()
		r.logger.Warn("transaction conflict, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return classify(err)
}

func (r *PostgresRunner) once(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Unavailable(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(newPostgresTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type postgresTx struct {
	ledger *ledger.PostgresLedger
	vault  *escrow.PostgresVault
	orders *postgresOrders
	offers *postgresOffers
}

func newPostgresTx(tx pgx.Tx) *postgresTx {
	return &postgresTx{
		ledger: ledger.NewPostgresLedger(tx),
		vault:  escrow.NewPostgresVault(tx),
		orders: &postgresOrders{db: tx},
		offers: &postgresOffers{db: tx},
	}
}

func (t *postgresTx) Ledger() ledger.Ledger   { return t.ledger }
func (t *postgresTx) Vault() escrow.Vault     { return t.vault }
func (t *postgresTx) Orders() OrderRepository { return t.orders }
func (t *postgresTx) Offers() OfferRepository { return t.offers }

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// classify wraps connectivity failures so callers can tell them apart from
// domain outcomes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return domain.Unavailable(err)
	}
	return err
}
