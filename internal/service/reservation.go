package service

import (
	"context"
	"sort"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// ReservationEngine deducts stock for a batch of lines inside a unit of work.
//
// Every distinct product is locked exactly once, in ascending id order, so
// two batches touching overlapping products can never wait on each other in
// a cycle. Sufficiency is checked against the locked quantity and the total
// requested for that product across all lines.
type ReservationEngine struct {
	metrics *util.Metrics
}

func NewReservationEngine(metrics *util.Metrics) *ReservationEngine {
	return &ReservationEngine{metrics: metrics}
}

// Reserve locks and decrements every product in lines. On success the
// returned map holds the locked products with their post-decrement
// quantities. On error nothing has been written through uow except what the
// caller's rollback discards.
func (e *ReservationEngine) Reserve(ctx context.Context, uow store.UnitOfWork, lines []models.LineRequest) (map[int64]*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ReservationEngine.Reserve")
	defer span.End()

	requested := RequestedQuantities(lines)
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start := time.Now()
	locked, err := uow.LockProductsForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
	}

	// all checks before any write
	for _, id := range ids {
		p := locked[id]
		if requested[id] > p.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   id,
				ProductName: p.Name,
				Available:   p.Quantity,
				Requested:   requested[id],
			}
		}
	}

	for _, id := range ids {
		p := locked[id]
		p.Quantity -= requested[id]
		if err := uow.SaveProduct(ctx, p); err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.StockReservationLatency.Observe(time.Since(start).Seconds())
	}
	return locked, nil
}

// RequestedQuantities sums the quantity per product across lines
func RequestedQuantities(lines []models.LineRequest) map[int64]int {
	requested := make(map[int64]int, len(lines))
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}
	return requested
}
