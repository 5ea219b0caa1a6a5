package service

import (
	"strings"

	"pos-service/internal/models"
)

// localPhoneDigits is the subscriber number length after the country code
const localPhoneDigits = 9

// SaleRequest is a proposed sale: the header of one variant plus its lines
type SaleRequest struct {
	Kind    models.SaleKind
	Order   *models.OrderDetails
	Cashier *models.CashierDetails
	Lines   []models.LineRequest
}

// Validator checks the structure of a sale request. It never touches
// storage; stock sufficiency is decided under lock by the reservation engine.
type Validator struct {
	countryCode string
}

func NewValidator(countryCode string) *Validator {
	return &Validator{countryCode: strings.TrimPrefix(countryCode, "+")}
}

// Validate returns a normalised copy of req or the first input error found
func (v *Validator) Validate(req *SaleRequest) (*SaleRequest, error) {
	if req == nil || len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	out := &SaleRequest{
		Kind:  req.Kind,
		Lines: append([]models.LineRequest(nil), req.Lines...),
	}

	switch req.Kind {
	case models.SaleKindOrder:
		if req.Order == nil {
			return nil, ErrInvalidSaleKind
		}
		order, err := v.validateOrder(*req.Order)
		if err != nil {
			return nil, err
		}
		out.Order = order
	case models.SaleKindCashier:
		if req.Cashier == nil {
			return nil, ErrInvalidSaleKind
		}
		cashier, err := validateCashier(*req.Cashier)
		if err != nil {
			return nil, err
		}
		out.Cashier = cashier
	default:
		return nil, ErrInvalidSaleKind
	}

	return out, nil
}

func (v *Validator) validateOrder(o models.OrderDetails) (*models.OrderDetails, error) {
	o.DeliveryOption = models.DeliveryMode(strings.ToLower(strings.TrimSpace(string(o.DeliveryOption))))
	switch o.DeliveryOption {
	case models.DeliveryModePickup:
		o.DeliveryAddress = strings.TrimSpace(o.DeliveryAddress)
	case models.DeliveryModeDelivery:
		o.DeliveryAddress = strings.TrimSpace(o.DeliveryAddress)
		if o.DeliveryAddress == "" {
			return nil, ErrMissingAddress
		}
	default:
		return nil, ErrInvalidDeliveryOption
	}

	phone, err := NormalizePhone(o.PhoneNumber, v.countryCode)
	if err != nil {
		return nil, err
	}
	o.PhoneNumber = phone
	o.FirstName = strings.TrimSpace(o.FirstName)
	o.LastName = strings.TrimSpace(o.LastName)
	o.EmailAddress = strings.TrimSpace(o.EmailAddress)
	return &o, nil
}

func validateCashier(c models.CashierDetails) (*models.CashierDetails, error) {
	c.OperatorID = strings.TrimSpace(c.OperatorID)
	if c.OperatorID == "" {
		return nil, ErrMissingOperator
	}

	c.PaymentMethod = strings.ToLower(strings.TrimSpace(c.PaymentMethod))
	switch c.PaymentMethod {
	case "":
		c.PaymentMethod = models.PaymentMethodCash
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodMobile:
	default:
		return nil, ErrInvalidPaymentMethod
	}
	return &c, nil
}

// NormalizePhone converts a local or international number to
// +<countryCode><9 digits>. Spaces, dashes, dots and parentheses are ignored.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhoneFormat
		}
	}
	digits := b.String()

	var local string
	switch {
	case strings.HasPrefix(digits, "+"):
		rest := digits[1:]
		if !strings.HasPrefix(rest, countryCode) {
			return "", ErrInvalidPhoneFormat
		}
		local = rest[len(countryCode):]
	case strings.HasPrefix(digits, countryCode) && len(digits) == len(countryCode)+localPhoneDigits:
		local = digits[len(countryCode):]
	case strings.HasPrefix(digits, "0"):
		local = digits[1:]
	default:
		local = digits
	}

	if len(local) != localPhoneDigits {
		return "", ErrInvalidPhoneFormat
	}
	return "+" + countryCode + local, nil
}
