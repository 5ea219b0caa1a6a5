package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		aborted bool
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"lock timeout", &pq.Error{Code: "55P03"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"wrapped lock timeout", fmt.Errorf("lock product 3: %w", &pq.Error{Code: "55P03"}), true},
		{"bad conn", driver.ErrBadConn, true},
		{"check violation", &pq.Error{Code: "23514"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.aborted, errors.Is(got, ErrTransactionAborted))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, classifyError(nil))
}

func TestParseIsolation(t *testing.T) {
	assert.Equal(t, sql.LevelReadCommitted, ParseIsolation("read_committed"))
	assert.Equal(t, sql.LevelRepeatableRead, ParseIsolation("repeatable_read"))
	assert.Equal(t, sql.LevelSerializable, ParseIsolation("serializable"))
	assert.Equal(t, sql.LevelReadCommitted, ParseIsolation("bogus"))
	assert.Equal(t, sql.LevelReadCommitted, ParseIsolation(""))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewStore(url, Options{Isolation: sql.LevelReadCommitted, LockTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestUnitOfWorkRollbackDiscardsDecrement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: "Maize flour 2kg", Price: decimal.RequireFromString("215.00"), Quantity: 5}
	require.NoError(t, s.CreateProduct(ctx, product))

	uow, err := s.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	locked, err := uow.LockProductsForUpdate(ctx, []int64{product.ID})
	require.NoError(t, err)
	require.Contains(t, locked, product.ID)

	locked[product.ID].Quantity -= 3
	require.NoError(t, uow.SaveProduct(ctx, locked[product.ID]))
	require.NoError(t, uow.Rollback())

	after, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Quantity)
}

func TestInsertSaleDuplicateCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: "Cooking oil 1L", Price: decimal.RequireFromString("340.00"), Quantity: 10}
	require.NoError(t, s.CreateProduct(ctx, product))

	code := fmt.Sprintf("OTC%08X", time.Now().UnixNano()&0xffffffff)
	newSale := func() *models.Sale {
		return &models.Sale{
			Kind:            models.SaleKindCashier,
			TransactionCode: code,
			GrandTotal:      decimal.RequireFromString("340.00"),
			Status:          models.CashierStatusCompleted,
			CreatedAt:       time.Now().UTC(),
			Cashier:         &models.CashierDetails{OperatorID: "till-1", PaymentMethod: models.PaymentMethodCash},
			Lines: []models.SaleLine{{
				Position: 1, ProductID: product.ID, Quantity: 1,
				UnitPrice: decimal.RequireFromString("340.00"), LineTotal: decimal.RequireFromString("340.00"),
			}},
		}
	}

	uow, err := s.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	first := newSale()
	require.NoError(t, uow.InsertSale(ctx, first))
	require.NoError(t, uow.Commit())

	uow, err = s.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	assert.ErrorIs(t, uow.InsertSale(ctx, newSale()), ErrDuplicateTransactionCode)

	stored, err := s.GetSaleByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, code, stored.TransactionCode)
	require.Len(t, stored.Lines, 1)
	assert.True(t, stored.GrandTotal.Equal(stored.Lines[0].LineTotal))
}
