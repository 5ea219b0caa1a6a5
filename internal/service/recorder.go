package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxCodeAttempts = 5

// NewTransactionCode returns the kind's prefix followed by eight uppercase
// hex characters.
func NewTransactionCode(kind models.SaleKind) string {
	id := uuid.New()
	return kind.CodePrefix() + strings.ToUpper(hex.EncodeToString(id[:4]))
}

// SaleRecorder persists the sale header and its priced lines
type SaleRecorder struct {
	newCode func(models.SaleKind) string
	now     func() time.Time
}

func NewSaleRecorder() *SaleRecorder {
	return &SaleRecorder{
		newCode: NewTransactionCode,
		now:     time.Now,
	}
}

// Record prices every line at the locked product's current price, sums the
// grand total and inserts the sale through uow. A code collision is retried
// with a fresh code.
func (r *SaleRecorder) Record(ctx context.Context, uow store.UnitOfWork, req *SaleRequest, products map[int64]*models.Product) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleRecorder.Record")
	defer span.End()

	sale := &models.Sale{
		Kind:       req.Kind,
		GrandTotal: decimal.Zero,
		CreatedAt:  r.now().UTC().Truncate(time.Microsecond),
		Lines:      make([]models.SaleLine, 0, len(req.Lines)),
	}

	switch req.Kind {
	case models.SaleKindOrder:
		sale.Status = models.OrderStatusPending
		order := *req.Order
		sale.Order = &order
	case models.SaleKindCashier:
		sale.Status = models.CashierStatusCompleted
		cashier := *req.Cashier
		sale.Cashier = &cashier
	default:
		return nil, ErrInvalidSaleKind
	}

	for i, line := range req.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		sale.Lines = append(sale.Lines, models.SaleLine{
			Position:  i + 1,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			LineTotal: lineTotal,
		})
		sale.GrandTotal = sale.GrandTotal.Add(lineTotal)
	}

	for attempt := 1; ; attempt++ {
		sale.TransactionCode = r.newCode(req.Kind)
		err := uow.InsertSale(ctx, sale)
		if err == nil {
			return sale, nil
		}
		if !errors.Is(err, store.ErrDuplicateTransactionCode) || attempt >= maxCodeAttempts {
			return nil, fmt.Errorf("failed to insert sale: %w", err)
		}
	}
}
