package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/scry-exam/internal/store"
)

// Store implements store.Store over a *sql.DB or a single *sql.Tx.
type Store struct {
	db     *sql.DB
	q      store.DBTX
	driver Driver
	logger *slog.Logger
	inTx   bool
}

var _ store.Store = (*Store)(nil)

// New creates a Store over db.
func New(db *sql.DB, driver Driver, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		q:      db,
		driver: driver,
		logger: logger.With("component", "sqlstore", "driver", string(driver)),
	}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx implements store.Store. A transaction-bound Store runs nested calls
// inline in the same transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &Store{
			db:     s.db,
			q:      tx,
			driver: s.driver,
			logger: s.logger,
			inTx:   true,
		})
	})
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// forUpdate returns the row-lock suffix for the dialect. SQLite serializes
// writers at the database level and has no row locks.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres && s.inTx {
		return " FOR UPDATE"
	}
	return ""
}
