package api

import (
	"pos-service/internal/models"
	"pos-service/internal/service"
)

// LineItem is one requested product line
type LineItem struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity"`
}

// CreateOrderRequest represents a customer checkout
type CreateOrderRequest struct {
	FirstName       string     `json:"first_name" binding:"required"`
	LastName        string     `json:"last_name"`
	PhoneNumber     string     `json:"phone_number" binding:"required"`
	EmailAddress    string     `json:"email_address" binding:"omitempty,email"`
	DeliveryOption  string     `json:"delivery_option" binding:"required"`
	DeliveryAddress string     `json:"delivery_address"`
	PaymentMethod   string     `json:"payment_method" binding:"required"`
	Notes           string     `json:"notes"`
	Items           []LineItem `json:"items" binding:"dive"`
}

// CreateCashierTransactionRequest represents a counter sale
type CreateCashierTransactionRequest struct {
	OperatorID    string     `json:"operator_id" binding:"required"`
	PaymentMethod string     `json:"payment_method"`
	Notes         string     `json:"notes"`
	Items         []LineItem `json:"items" binding:"dive"`
}

// UpdateStatusRequest sets a customer order's status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// RestockRequest adds units to a product
type RestockRequest struct {
	Quantity int `json:"quantity"`
}

func toLines(items []LineItem) []models.LineRequest {
	lines := make([]models.LineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func (r *CreateOrderRequest) toSaleRequest() *service.SaleRequest {
	return &service.SaleRequest{
		Kind: models.SaleKindOrder,
		Order: &models.OrderDetails{
			FirstName:       r.FirstName,
			LastName:        r.LastName,
			PhoneNumber:     r.PhoneNumber,
			EmailAddress:    r.EmailAddress,
			DeliveryOption:  models.DeliveryMode(r.DeliveryOption),
			DeliveryAddress: r.DeliveryAddress,
			PaymentMethod:   r.PaymentMethod,
			Notes:           r.Notes,
		},
		Lines: toLines(r.Items),
	}
}

func (r *CreateCashierTransactionRequest) toSaleRequest() *service.SaleRequest {
	return &service.SaleRequest{
		Kind: models.SaleKindCashier,
		Cashier: &models.CashierDetails{
			OperatorID:    r.OperatorID,
			PaymentMethod: r.PaymentMethod,
			Notes:         r.Notes,
		},
		Lines: toLines(r.Items),
	}
}
