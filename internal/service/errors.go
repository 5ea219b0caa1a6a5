package service

import (
	"errors"
	"fmt"

	"pos-service/internal/store"
)

// Input errors, detected before any storage access
var (
	ErrEmptyCart             = errors.New("sale must contain at least one line")
	ErrInvalidQuantity       = errors.New("quantity must be a positive number")
	ErrInvalidDeliveryOption = errors.New(`delivery option must be "pickup" or "delivery"`)
	ErrMissingAddress        = errors.New("delivery address is required for delivery orders")
	ErrInvalidPhoneFormat    = errors.New("invalid phone number format")
	ErrInvalidPaymentMethod  = errors.New(`payment method must be "cash", "card" or "mobile"`)
	ErrMissingOperator       = errors.New("cashier transaction requires an operator")
	ErrInvalidSaleKind       = errors.New("invalid sale kind")
	ErrInvalidStatus         = errors.New("invalid order status")
)

var (
	ErrNotFound = store.ErrNotFound

	// ErrTransactionAborted is retryable: nothing was persisted.
	ErrTransactionAborted = store.ErrTransactionAborted
)

// ProductNotFoundError reports a sale line whose product does not exist
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InsufficientStockError reports the first product whose locked quantity
// cannot cover the cumulative quantity requested by the batch
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): available=%d, requested=%d",
		e.ProductID, e.ProductName, e.Available, e.Requested)
}

// IsInputError reports whether err was raised by request validation
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrEmptyCart, ErrInvalidQuantity, ErrInvalidDeliveryOption, ErrMissingAddress,
		ErrInvalidPhoneFormat, ErrInvalidPaymentMethod, ErrMissingOperator, ErrInvalidSaleKind,
		ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asAborted passes domain errors through and wraps every other failure of
// the unit of work as a retryable ErrTransactionAborted.
func asAborted(err error) error {
	if err == nil {
		return nil
	}
	var notFound *ProductNotFoundError
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &notFound), errors.As(err, &insufficient),
		errors.Is(err, ErrTransactionAborted), errors.Is(err, ErrNotFound), IsInputError(err):
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
}

// failureReason is the metrics label for a failed sale
func failureReason(err error) string {
	var notFound *ProductNotFoundError
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.As(err, &notFound):
		return "product_not_found"
	case IsInputError(err):
		return "invalid_request"
	default:
		return "transaction_aborted"
	}
}
