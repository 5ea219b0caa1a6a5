package notify

import (
	"fmt"

	"pos-service/internal/models"
)

type templateKey struct {
	status string
	mode   models.DeliveryMode
}

// anyMode matches every delivery mode
const anyMode models.DeliveryMode = ""

var statusTemplates = map[templateKey]string{
	{models.OrderStatusProcessing, anyMode}:                       "Hi %s, your order %s is now being processed.",
	{models.OrderStatusReadyForPickup, models.DeliveryModePickup}: "Hi %s, your order %s is ready for pickup.",
	{models.OrderStatusCollected, models.DeliveryModePickup}:      "Hi %s, your order %s has been collected. Thank you for shopping with us.",
	{models.OrderStatusShipped, models.DeliveryModeDelivery}:      "Hi %s, your order %s has been shipped and is on its way.",
	{models.OrderStatusDelivered, models.DeliveryModeDelivery}:    "Hi %s, your order %s has been delivered. Thank you for shopping with us.",
}

// StatusMessage returns the text for an order that moved to status. ok is
// false when no template covers the (status, delivery mode) pair.
func StatusMessage(order *models.Sale, status string) (string, bool) {
	if order.Order == nil {
		return "", false
	}
	tmpl, ok := statusTemplates[templateKey{status, order.Order.DeliveryOption}]
	if !ok {
		tmpl, ok = statusTemplates[templateKey{status, anyMode}]
	}
	if !ok {
		return "", false
	}
	return fmt.Sprintf(tmpl, greetingName(order.Order), order.TransactionCode), true
}

// OrderPlacedMessage confirms a newly committed customer order
func OrderPlacedMessage(order *models.Sale, currency string) string {
	return fmt.Sprintf("Hi %s, we have received your order %s. Total: %s %s.",
		greetingName(order.Order), order.TransactionCode, currency, order.GrandTotal.StringFixed(2))
}

func greetingName(o *models.OrderDetails) string {
	if o == nil || o.FirstName == "" {
		return "there"
	}
	return o.FirstName
}
