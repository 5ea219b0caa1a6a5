package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/notify"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes committed changes to the sale events topic
type EventPublisher interface {
	PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishStockRestocked(ctx context.Context, event *models.StockRestockedEvent) error
}

// NotificationDispatcher hands a message off for asynchronous delivery
type NotificationDispatcher interface {
	Dispatch(phoneNumber, message string)
}

// Options configures the sale service
type Options struct {
	PhoneCountryCode string
	CurrencyCode     string
}

// SaleService runs customer orders and cashier transactions as single units
// of work against the inventory store
type SaleService struct {
	store     store.InventoryStore
	validator *Validator
	engine    *ReservationEngine
	recorder  *SaleRecorder
	events    EventPublisher
	notifier  NotificationDispatcher
	metrics   *util.Metrics
	logger    *zap.Logger
	currency  string
}

// NewSaleService creates a new sale service. events may be nil when no
// broker is configured.
func NewSaleService(
	inventory store.InventoryStore,
	events EventPublisher,
	notifier NotificationDispatcher,
	metrics *util.Metrics,
	logger *zap.Logger,
	opts Options,
) *SaleService {
	return &SaleService{
		store:     inventory,
		validator: NewValidator(opts.PhoneCountryCode),
		engine:    NewReservationEngine(metrics),
		recorder:  NewSaleRecorder(),
		events:    events,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		currency:  opts.CurrencyCode,
	}
}

// SubmitSale validates req, deducts stock for every line and records the sale
// atomically. Either everything commits or nothing does.
func (s *SaleService) SubmitSale(ctx context.Context, req *SaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.SubmitSale")
	defer span.End()

	kind := models.SaleKind("unknown")
	if req != nil {
		kind = req.Kind
	}

	valid, err := s.validator.Validate(req)
	if err != nil {
		s.countFailure(kind, err)
		return nil, err
	}

	sale, levels, err := s.commitSale(ctx, valid)
	if err != nil {
		s.countFailure(kind, err)
		s.logger.Warn("Sale rejected",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}

	units := 0
	for _, line := range sale.Lines {
		units += line.Quantity
	}
	if s.metrics != nil {
		s.metrics.SalesCommittedTotal.WithLabelValues(string(sale.Kind)).Inc()
		s.metrics.SaleUnitsTotal.WithLabelValues(string(sale.Kind)).Add(float64(units))
	}
	s.logger.Info("Sale committed",
		zap.Int64("sale_id", sale.ID),
		zap.String("transaction_code", sale.TransactionCode),
		zap.String("kind", string(sale.Kind)),
		zap.String("grand_total", sale.GrandTotal.StringFixed(2)))

	s.publishSaleCompleted(ctx, sale, levels)

	if sale.Kind == models.SaleKindOrder && s.notifier != nil {
		s.notifier.Dispatch(sale.Order.PhoneNumber, notify.OrderPlacedMessage(sale, s.currency))
	}

	return sale, nil
}

func (s *SaleService) commitSale(ctx context.Context, req *SaleRequest) (sale *models.Sale, levels []models.StockLevel, err error) {
	uow, err := s.store.BeginUnitOfWork(ctx)
	if err != nil {
		return nil, nil, asAborted(err)
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back sale", zap.Error(rbErr))
			}
		}
	}()

	locked, err := s.engine.Reserve(ctx, uow, req.Lines)
	if err != nil {
		return nil, nil, asAborted(err)
	}

	sale, err = s.recorder.Record(ctx, uow, req, locked)
	if err != nil {
		return nil, nil, asAborted(err)
	}

	if err = uow.Commit(); err != nil {
		return nil, nil, asAborted(err)
	}

	return sale, stockLevels(locked), nil
}

// Restock adds quantity units to a product under the same row lock sales use
func (s *SaleService) Restock(ctx context.Context, productID int64, quantity int) (product *models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "SaleService.Restock")
	defer span.End()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	uow, err := s.store.BeginUnitOfWork(ctx)
	if err != nil {
		return nil, asAborted(err)
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back restock", zap.Error(rbErr))
			}
		}
	}()

	locked, err := uow.LockProductsForUpdate(ctx, []int64{productID})
	if err != nil {
		return nil, asAborted(err)
	}
	product, ok := locked[productID]
	if !ok {
		return nil, &ProductNotFoundError{ProductID: productID}
	}

	product.Quantity += quantity
	if err = uow.SaveProduct(ctx, product); err != nil {
		return nil, asAborted(err)
	}
	if err = uow.Commit(); err != nil {
		return nil, asAborted(err)
	}

	if s.metrics != nil {
		s.metrics.StockRestockedTotal.Add(float64(quantity))
	}
	s.logger.Info("Product restocked",
		zap.Int64("product_id", productID),
		zap.Int("added", quantity),
		zap.Int("quantity", product.Quantity))

	if s.events != nil {
		event := &models.StockRestockedEvent{
			BaseEvent: newBaseEvent(models.EventTypeStockRestocked),
			ProductID: productID,
			Added:     quantity,
			Quantity:  product.Quantity,
			Version:   product.Version,
		}
		if pubErr := s.events.PublishStockRestocked(ctx, event); pubErr != nil {
			s.logger.Error("Failed to publish StockRestocked event",
				zap.Int64("product_id", productID),
				zap.Error(pubErr))
		}
	}

	return product, nil
}

// GetSale retrieves a committed sale with its lines
func (s *SaleService) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.GetSale")
	defer span.End()

	sale, err := s.store.GetSaleByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale %d: %w", id, err)
	}
	return sale, nil
}

// GetProduct retrieves a product with its committed stock
func (s *SaleService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.GetProduct")
	defer span.End()

	product, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return product, nil
}

func (s *SaleService) publishSaleCompleted(ctx context.Context, sale *models.Sale, levels []models.StockLevel) {
	if s.events == nil {
		return
	}

	lines := make([]models.LineData, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		lines = append(lines, models.LineData{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal.StringFixed(2),
		})
	}

	event := &models.SaleCompletedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeSaleCompleted),
		SaleID:          sale.ID,
		Kind:            sale.Kind,
		TransactionCode: sale.TransactionCode,
		GrandTotal:      sale.GrandTotal.StringFixed(2),
		Lines:           lines,
		StockLevels:     levels,
	}

	if err := s.events.PublishSaleCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCompleted event",
			zap.Int64("sale_id", sale.ID),
			zap.Error(err))
	}
}

func (s *SaleService) countFailure(kind models.SaleKind, err error) {
	if s.metrics != nil {
		s.metrics.SalesFailedTotal.WithLabelValues(string(kind), failureReason(err)).Inc()
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func stockLevels(products map[int64]*models.Product) []models.StockLevel {
	levels := make([]models.StockLevel, 0, len(products))
	for id, p := range products {
		levels = append(levels, models.StockLevel{ProductID: id, Quantity: p.Quantity, Version: p.Version})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ProductID < levels[j].ProductID })
	return levels
}
