package service

import (
	"context"
	"fmt"

	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// Stock level sources
const (
	StockSourceSnapshot = "snapshot"
	StockSourceStore    = "store"
)

// StockSnapshot is a possibly stale read model of committed stock
type StockSnapshot interface {
	GetStockLevel(ctx context.Context, productID int64) (quantity int, ok bool, err error)
}

// StockLevel is a product's quantity as seen by one source
type StockLevel struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Source    string `json:"source"`
}

// StockReader answers stock lookups from the snapshot when it has the
// product and from the store otherwise. It is never consulted by a sale.
type StockReader struct {
	snapshot StockSnapshot
	store    store.InventoryStore
	logger   *zap.Logger
}

// NewStockReader creates a reader; snapshot may be nil
func NewStockReader(snapshot StockSnapshot, inventory store.InventoryStore, logger *zap.Logger) *StockReader {
	return &StockReader{snapshot: snapshot, store: inventory, logger: logger}
}

func (r *StockReader) StockLevel(ctx context.Context, productID int64) (*StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "StockReader.StockLevel")
	defer span.End()

	if r.snapshot != nil {
		qty, ok, err := r.snapshot.GetStockLevel(ctx, productID)
		switch {
		case err != nil:
			r.logger.Warn("Stock snapshot unavailable, reading store",
				zap.Int64("product_id", productID),
				zap.Error(err))
		case ok:
			return &StockLevel{ProductID: productID, Quantity: qty, Source: StockSourceSnapshot}, nil
		}
	}

	product, err := r.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", productID, err)
	}
	return &StockLevel{ProductID: productID, Quantity: product.Quantity, Source: StockSourceStore}, nil
}
