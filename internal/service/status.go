package service

import (
	"context"
	"fmt"

	"pos-service/internal/models"
	"pos-service/internal/notify"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

type notifyRule func(previous string, mode models.DeliveryMode) bool

// statusNotifyRules decides, per target status, whether moving an order
// there from previous sends the customer a message.
var statusNotifyRules = map[string]notifyRule{
	models.OrderStatusProcessing: func(previous string, _ models.DeliveryMode) bool {
		return previous == models.OrderStatusPending
	},
	models.OrderStatusReadyForPickup: func(previous string, mode models.DeliveryMode) bool {
		return mode == models.DeliveryModePickup && previous != models.OrderStatusReadyForPickup
	},
	models.OrderStatusCollected: func(previous string, mode models.DeliveryMode) bool {
		return mode == models.DeliveryModePickup && previous != models.OrderStatusCollected
	},
	models.OrderStatusShipped: func(previous string, mode models.DeliveryMode) bool {
		return mode == models.DeliveryModeDelivery && previous != models.OrderStatusShipped
	},
	models.OrderStatusDelivered: func(previous string, mode models.DeliveryMode) bool {
		return mode == models.DeliveryModeDelivery && previous != models.OrderStatusDelivered
	},
}

func shouldNotify(previous, status string, mode models.DeliveryMode) bool {
	rule, ok := statusNotifyRules[status]
	return ok && rule(previous, mode)
}

// UpdateOrderStatus overwrites the status of a customer order. Any declared
// status may follow any other. The customer is messaged only for the
// transitions in statusNotifyRules, after the change has committed.
func (s *SaleService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (order *models.Sale, err error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateOrderStatus")
	defer span.End()

	if !models.IsOrderStatus(status) {
		return nil, ErrInvalidStatus
	}

	uow, err := s.store.BeginUnitOfWork(ctx)
	if err != nil {
		return nil, asAborted(err)
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back status update", zap.Error(rbErr))
			}
		}
	}()

	order, err = uow.LockSaleForUpdate(ctx, orderID)
	if err != nil {
		return nil, asAborted(err)
	}
	if order.Kind != models.SaleKindOrder || order.Order == nil {
		return nil, fmt.Errorf("sale %d is not a customer order: %w", orderID, ErrNotFound)
	}

	previous := order.Status
	if previous != status {
		if err = uow.UpdateSaleStatus(ctx, orderID, status); err != nil {
			return nil, asAborted(err)
		}
	}
	if err = uow.Commit(); err != nil {
		return nil, asAborted(err)
	}
	order.Status = status

	if s.metrics != nil && previous != status {
		s.metrics.StatusTransitionsTotal.WithLabelValues(status).Inc()
	}
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("previous_status", previous),
		zap.String("status", status))

	if previous != status && s.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeOrderStatusChanged),
			SaleID:          orderID,
			TransactionCode: order.TransactionCode,
			PreviousStatus:  previous,
			Status:          status,
		}
		if pubErr := s.events.PublishOrderStatusChanged(ctx, event); pubErr != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event",
				zap.Int64("order_id", orderID),
				zap.Error(pubErr))
		}
	}

	if s.notifier != nil && shouldNotify(previous, status, order.Order.DeliveryOption) {
		if msg, ok := notify.StatusMessage(order, status); ok {
			s.notifier.Dispatch(order.Order.PhoneNumber, msg)
		}
	}

	return order, nil
}
