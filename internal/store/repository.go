package store

import (
	"context"
	"errors"

	"pos-service/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrTransactionAborted marks lock-wait timeouts, deadlocks, serialization
	// failures and lost connections. The unit of work is rolled back and the
	// whole operation may be retried by the caller.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrDuplicateTransactionCode is returned by InsertSale when the code is
	// taken. The unit of work stays usable.
	ErrDuplicateTransactionCode = errors.New("duplicate transaction code")

	ErrNegativeStock = errors.New("stock quantity cannot be negative")
	ErrNotLocked     = errors.New("row not locked by this unit of work")
	ErrTxDone        = errors.New("unit of work already finished")
)

// InventoryStore is the persistence collaborator of the sale core.
type InventoryStore interface {
	BeginUnitOfWork(ctx context.Context) (UnitOfWork, error)

	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetSaleByID(ctx context.Context, id int64) (*models.Sale, error)
}

// UnitOfWork is one atomic transaction against the inventory store. Row locks
// taken through it are held until Commit or Rollback.
type UnitOfWork interface {
	// LockProductsForUpdate takes an exclusive lock on each product in the
	// order given, blocking until every lock is held. Ids that do not
	// resolve to a product are absent from the result.
	LockProductsForUpdate(ctx context.Context, ids []int64) (map[int64]*models.Product, error)

	// SaveProduct writes the stock quantity of a product locked by this unit
	// of work.
	SaveProduct(ctx context.Context, product *models.Product) error

	// InsertSale persists the header and every line, assigning ids.
	InsertSale(ctx context.Context, sale *models.Sale) error

	LockSaleForUpdate(ctx context.Context, id int64) (*models.Sale, error)
	UpdateSaleStatus(ctx context.Context, id int64, status string) error

	Commit() error
	// Rollback is a no-op after Commit.
	Rollback() error
}
