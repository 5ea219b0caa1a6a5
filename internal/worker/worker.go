package worker

import (
	"context"
	"fmt"

	"pos-service/internal/broker"
	"pos-service/internal/models"

	"go.uber.org/zap"
)

// StockWriter stores committed stock levels. A level whose version is not
// newer than the stored one for that product must be ignored, since events
// for one product can arrive out of commit order.
type StockWriter interface {
	SetStockLevels(ctx context.Context, levels []models.StockLevel) error
}

// StockSnapshotWorker keeps the Redis stock snapshot in step with the sale
// events topic
type StockSnapshotWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	writer       StockWriter
	logger       *zap.Logger
}

// NewStockSnapshotWorker creates a new snapshot worker
func NewStockSnapshotWorker(consumer *broker.Consumer, writer StockWriter, logger *zap.Logger) *StockSnapshotWorker {
	w := &StockSnapshotWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(logger),
		writer:       writer,
		logger:       logger,
	}

	w.eventHandler.OnSaleCompleted(w.HandleSaleCompleted)
	w.eventHandler.OnStockRestocked(w.HandleStockRestocked)

	return w
}

// Start consumes until ctx is done
func (w *StockSnapshotWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock snapshot worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockSnapshotWorker) Stop() error {
	w.logger.Info("Stopping stock snapshot worker")
	return w.consumer.Close()
}

func (w *StockSnapshotWorker) HandleSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	if err := w.writer.SetStockLevels(ctx, event.StockLevels); err != nil {
		return fmt.Errorf("failed to update snapshot for sale %d: %w", event.SaleID, err)
	}
	w.logger.Debug("Stock snapshot updated",
		zap.Int64("sale_id", event.SaleID),
		zap.Int("products", len(event.StockLevels)))
	return nil
}

func (w *StockSnapshotWorker) HandleStockRestocked(ctx context.Context, event *models.StockRestockedEvent) error {
	levels := []models.StockLevel{{ProductID: event.ProductID, Quantity: event.Quantity, Version: event.Version}}
	if err := w.writer.SetStockLevels(ctx, levels); err != nil {
		return fmt.Errorf("failed to update snapshot for product %d: %w", event.ProductID, err)
	}
	return nil
}
