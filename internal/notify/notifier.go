package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pos-service/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers a text message to a phone number
type Notifier interface {
	Notify(ctx context.Context, phoneNumber, message string) error
}

// Dispatcher runs notifications fire-and-forget. Failures and panics are
// logged and counted, never returned to the caller.
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	metrics  *util.Metrics
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher; metrics may be nil
func NewDispatcher(notifier Notifier, logger *zap.Logger, metrics *util.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// Dispatch sends the message on its own goroutine and returns immediately.
// The send is detached from the request context so it outlives the request.
func (d *Dispatcher) Dispatch(phoneNumber, message string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.send(ctx, phoneNumber, message); err != nil {
			d.logger.Error("Failed to send notification",
				zap.String("phone_number", phoneNumber),
				zap.Error(err))
			d.count("failed")
			return
		}
		d.count("sent")
	}()
}

// Wait blocks until every dispatched notification has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, phoneNumber, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, phoneNumber, message)
}

func (d *Dispatcher) count(result string) {
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(result).Inc()
	}
}

// LogNotifier only logs messages. Used when no SMS channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, phoneNumber, message string) error {
	n.logger.Info("SMS notification",
		zap.String("phone_number", phoneNumber),
		zap.String("message", message))
	return nil
}
