package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ledger/internal/core"
	"ledger/internal/log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	insertTransaction = `INSERT INTO transactions (client_id, transaction_timestamp, value, description)
VALUES (?, ?, ?, ?)
RETURNING id`

	sumForClient = `SELECT CAST(SUM(value) AS BIGINT)
FROM transactions
WHERE client_id = ?`

	sumInRange = `SELECT CAST(SUM(value) AS BIGINT)
FROM transactions
WHERE client_id = ?
  AND transaction_timestamp >= ?
  AND transaction_timestamp <= ?`

	listInRange = `SELECT id, client_id, transaction_timestamp, value, description
FROM transactions
WHERE client_id = ?
  AND transaction_timestamp >= ?
  AND transaction_timestamp <= ?
ORDER BY transaction_timestamp, id`

	findByID = `SELECT id, client_id, transaction_timestamp, value, description
FROM transactions
WHERE id = ?`
)

// StorageError reports a database failure. The enclosing transaction has
// already been rolled back when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SQLRepository persists transactions in a relational database.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *log.Logger
}

// Open connects to databaseURL, creates the schema if needed and returns a
// ready repository.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*SQLRepository, error) {
	dialect, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if dialect == DialectSQLite {
		dsn, err = prepareSQLite(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return New(db, dialect, logger), nil
}

// New wraps an already open pool. The schema must exist.
func New(db *sql.DB, dialect Dialect, logger *log.Logger) *SQLRepository {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		logger:  logger.WithComponent(log.ComponentStorage),
	}
}

// prepareSQLite creates the database directory and adds a busy timeout.
func prepareSQLite(dsn string) (string, error) {
	path, _, _ := strings.Cut(dsn, "?")
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
	}
	if strings.Contains(dsn, "busy_timeout") {
		return dsn, nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)", nil
}

func (r *SQLRepository) Dialect() Dialect {
	return r.dialect
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Insert persists a normalized draft and returns its id.
func (r *SQLRepository) Insert(ctx context.Context, d core.Draft) (int64, error) {
	fields := log.NewFields().WithOperation(log.OpInsert).WithClient(d.ClientID)

	var id int64
	err := r.inTx(ctx, log.OpInsert, fields, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, r.dialect.rebind(insertTransaction),
			d.ClientID, r.dialect.encodeTime(d.Timestamp), d.ValueCents, nullString(d.Description))
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.InfoContext(ctx, "Created a new transaction",
		log.FieldTxID, id,
		log.FieldClientID, d.ClientID,
		log.FieldValueCents, d.ValueCents)
	return id, nil
}

// SumForClient returns the sum of all values for clientID. ok is false when
// no row matched.
func (r *SQLRepository) SumForClient(ctx context.Context, clientID int64) (int64, bool, error) {
	fields := log.NewFields().WithOperation(log.OpSum).WithClient(clientID)
	return r.sum(ctx, fields, sumForClient, clientID)
}

// SumInRange is SumForClient restricted to rng, bounds included.
func (r *SQLRepository) SumInRange(ctx context.Context, clientID int64, rng core.Range) (int64, bool, error) {
	fields := log.NewFields().WithOperation(log.OpSum).WithClient(clientID).WithRange(rng.Start, rng.End)
	return r.sum(ctx, fields, sumInRange, clientID,
		r.dialect.encodeTime(&rng.Start), r.dialect.encodeTime(&rng.End))
}

func (r *SQLRepository) sum(ctx context.Context, fields log.LogFields, query string, args ...any) (int64, bool, error) {
	var total sql.NullInt64
	err := r.inTx(ctx, log.OpSum, fields, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, r.dialect.rebind(query), args...).Scan(&total); err != nil {
			return fmt.Errorf("sum values: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return total.Int64, total.Valid, nil
}

// ListInRange returns every transaction of clientID inside rng, ordered by
// timestamp then id.
func (r *SQLRepository) ListInRange(ctx context.Context, clientID int64, rng core.Range) ([]core.Transaction, error) {
	fields := log.NewFields().WithOperation(log.OpList).WithClient(clientID).WithRange(rng.Start, rng.End)

	out := []core.Transaction{}
	err := r.inTx(ctx, log.OpList, fields, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, r.dialect.rebind(listInRange),
			clientID, r.dialect.encodeTime(&rng.Start), r.dialect.encodeTime(&rng.End))
		if err != nil {
			return fmt.Errorf("query transactions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Listed transactions", append(fields.ToSlice(), log.FieldRowCount, len(out))...)
	return out, nil
}

// FindByID loads one transaction. ok is false when id does not exist.
func (r *SQLRepository) FindByID(ctx context.Context, id int64) (core.Transaction, bool, error) {
	fields := log.NewFields().WithOperation(log.OpFind).WithTransaction(id)

	var (
		t     core.Transaction
		found bool
	)
	err := r.inTx(ctx, log.OpFind, fields, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, r.dialect.rebind(findByID), id)
		var err error
		t, err = scanTransaction(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return core.Transaction{}, false, err
	}
	return t, found, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t           core.Transaction
		client      sql.NullInt64
		ts          any
		value       sql.NullInt64
		description sql.NullString
	)
	if err := row.Scan(&t.ID, &client, &ts, &value, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan transaction: %w", err)
	}
	var err error
	if t.Timestamp, err = decodeTime(ts); err != nil {
		return t, fmt.Errorf("decode timestamp of transaction %d: %w", t.ID, err)
	}
	t.ClientID = client.Int64
	t.ValueCents = value.Int64
	if description.Valid {
		s := description.String
		t.Description = &s
	}
	return t, nil
}

// inTx runs fn inside its own transaction. Any failure rolls back, is
// logged here with the operation context and comes back as *StorageError.
func (r *SQLRepository) inTx(ctx context.Context, op string, fields log.LogFields, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.fail(ctx, op, fields, fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.WarnContext(ctx, "Rollback failed", log.FieldOperation, op, log.FieldError, rbErr)
		}
		return r.fail(ctx, op, fields, err)
	}

	if err := tx.Commit(); err != nil {
		return r.fail(ctx, op, fields, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (r *SQLRepository) fail(ctx context.Context, op string, fields log.LogFields, err error) error {
	fields[log.FieldDialect] = r.dialect.String()
	r.logger.Fields(ctx, slog.LevelError, "Storage operation failed", fields.WithError(err))
	return &StorageError{Op: op, Err: err}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
