package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Options tunes the unit of work behaviour of the Postgres store
type Options struct {
	Isolation    sql.IsolationLevel
	LockTimeout  time.Duration
	MaxOpenConns int
}

type Store struct {
	db          *sqlx.DB
	isolation   sql.IsolationLevel
	lockTimeout time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, isolation: opts.Isolation, lockTimeout: opts.LockTimeout}, nil
}

// ParseIsolation maps a config value to an isolation level. Unknown values
// fall back to read committed.
//
// Under repeatable read and serializable, Postgres fails a transaction that
// waited on a FOR UPDATE lock with SQLSTATE 40001 once the holder commits, so
// a contended sale ends as ErrTransactionAborted instead of a stock check
// against the committed quantity. Read committed re-reads the locked row.
func ParseIsolation(level string) sql.IsolationLevel {
	switch level {
	case "serializable":
		return sql.LevelSerializable
	case "repeatable_read":
		return sql.LevelRepeatableRead
	default:
		return sql.LevelReadCommitted
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginUnitOfWork opens a transaction with the configured isolation and lock
// wait timeout.
func (s *Store) BeginUnitOfWork(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, classifyError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	return &unitOfWork{tx: tx}, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT id, name, price, quantity, version, updated_at FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT id, name, price, quantity, version, updated_at FROM products ORDER BY id")
	return products, err
}

// CreateProduct inserts a catalog product with its opening stock
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.Quantity < 0 {
		return ErrNegativeStock
	}
	query := `
		INSERT INTO products (name, price, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, version, updated_at`

	return s.db.QueryRowxContext(ctx, query, product.Name, product.Price, product.Quantity).
		Scan(&product.ID, &product.Version, &product.UpdatedAt)
}

type unitOfWork struct {
	tx *sqlx.Tx
}

// LockProductsForUpdate locks rows one id at a time so the acquisition order
// is exactly the order of ids.
func (u *unitOfWork) LockProductsForUpdate(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	locked := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		var product models.Product
		err := u.tx.GetContext(ctx, &product,
			"SELECT id, name, price, quantity, version, updated_at FROM products WHERE id = $1 FOR UPDATE", id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, classifyError(fmt.Errorf("failed to lock product %d: %w", id, err))
		}
		locked[id] = &product
	}
	return locked, nil
}

// SaveProduct writes the stock quantity of a locked product and bumps its
// version. The version is taken under the row lock, so it orders every
// committed write of the row.
func (u *unitOfWork) SaveProduct(ctx context.Context, product *models.Product) error {
	if product.Quantity < 0 {
		return ErrNegativeStock
	}
	err := u.tx.QueryRowxContext(ctx,
		"UPDATE products SET quantity = $1, version = version + 1, updated_at = NOW() WHERE id = $2 RETURNING version, updated_at",
		product.Quantity, product.ID).Scan(&product.Version, &product.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("product %d: %w", product.ID, ErrNotFound)
	}
	if err != nil {
		return classifyError(fmt.Errorf("failed to save product %d: %w", product.ID, err))
	}
	return nil
}

func (u *unitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return classifyError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// SQLSTATE codes that abort a unit of work but leave it safe to retry
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateClassConnection      = "08"
)

// classifyError wraps retryable infrastructure failures in
// ErrTransactionAborted and returns every other error unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
		}
		if pqErr.Code.Class() == sqlStateClassConnection {
			return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}
	return err
}
