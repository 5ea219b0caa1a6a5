package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product and its stock on hand
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Version   int64           `db:"version" json:"version"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleKind distinguishes customer orders from cashier transactions
type SaleKind string

const (
	SaleKindOrder   SaleKind = "order"
	SaleKindCashier SaleKind = "cashier"
)

// Transaction code prefixes
const (
	OrderCodePrefix   = "OON"
	CashierCodePrefix = "OTC"
)

// CodePrefix returns the transaction code prefix for the kind
func (k SaleKind) CodePrefix() string {
	if k == SaleKindCashier {
		return CashierCodePrefix
	}
	return OrderCodePrefix
}

// Sale is the persisted header of a customer order or cashier transaction.
// Exactly one of Order and Cashier is set, matching Kind.
type Sale struct {
	ID              int64           `db:"id" json:"id"`
	Kind            SaleKind        `db:"kind" json:"kind"`
	TransactionCode string          `db:"transaction_code" json:"transaction_code"`
	GrandTotal      decimal.Decimal `db:"grand_total" json:"grand_total"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Lines           []SaleLine      `db:"-" json:"lines"`
	Order           *OrderDetails   `db:"-" json:"order,omitempty"`
	Cashier         *CashierDetails `db:"-" json:"cashier,omitempty"`
}

// SaleLine is one priced product line of a sale
type SaleLine struct {
	ID        int64           `db:"id" json:"id"`
	SaleID    int64           `db:"sale_id" json:"sale_id"`
	Position  int             `db:"position" json:"position"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// OrderDetails carries the delivery metadata of a customer order
type OrderDetails struct {
	FirstName       string       `json:"first_name"`
	LastName        string       `json:"last_name"`
	PhoneNumber     string       `json:"phone_number"`
	EmailAddress    string       `json:"email_address"`
	DeliveryOption  DeliveryMode `json:"delivery_option"`
	DeliveryAddress string       `json:"delivery_address,omitempty"`
	PaymentMethod   string       `json:"payment_method"`
	Notes           string       `json:"notes,omitempty"`
}

// CashierDetails carries the operator and payment of an OTC sale
type CashierDetails struct {
	OperatorID    string `json:"operator_id"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes,omitempty"`
}

// DeliveryMode is how a customer order reaches the customer
type DeliveryMode string

const (
	DeliveryModePickup   DeliveryMode = "pickup"
	DeliveryModeDelivery DeliveryMode = "delivery"
)

// Order statuses
const (
	OrderStatusPending        = "pending"
	OrderStatusProcessing     = "processing"
	OrderStatusReadyForPickup = "ready_for_pickup"
	OrderStatusCollected      = "collected"
	OrderStatusShipped        = "shipped"
	OrderStatusDelivered      = "delivered"
)

// CashierStatusCompleted is the only status of a cashier transaction
const CashierStatusCompleted = "completed"

// IsOrderStatus reports whether status is one of the declared order statuses
func IsOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusReadyForPickup,
		OrderStatusCollected, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Cashier payment methods
const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodMobile = "mobile"
)

// LineRequest is a requested (product, quantity) pair before pricing
type LineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
