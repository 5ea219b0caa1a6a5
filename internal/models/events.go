package models

import "time"

// Event types
const (
	EventTypeSaleCompleted      = "SALE_COMPLETED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeStockRestocked     = "STOCK_RESTOCKED"
	EventTypeSMSRequested       = "SMS_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCompletedEvent published after a sale commits
type SaleCompletedEvent struct {
	BaseEvent
	SaleID          int64        `json:"sale_id"`
	Kind            SaleKind     `json:"kind"`
	TransactionCode string       `json:"transaction_code"`
	GrandTotal      string       `json:"grand_total"`
	Lines           []LineData   `json:"lines"`
	StockLevels     []StockLevel `json:"stock_levels"`
}

// OrderStatusChangedEvent published after a status overwrite commits
type OrderStatusChangedEvent struct {
	BaseEvent
	SaleID          int64  `json:"sale_id"`
	TransactionCode string `json:"transaction_code"`
	PreviousStatus  string `json:"previous_status"`
	Status          string `json:"status"`
}

// StockRestockedEvent published after an administrative restock commits
type StockRestockedEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	Added     int   `json:"added"`
	Quantity  int   `json:"quantity"`
	Version   int64 `json:"version"`
}

// SMSRequestedEvent is handed to the SMS gateway topic
type SMSRequestedEvent struct {
	BaseEvent
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

// LineData represents a sale line in events
type LineData struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

// StockLevel is the committed quantity of a product after a mutation.
// Version increases with every committed write of the product row.
type StockLevel struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Version   int64 `json:"version"`
}
