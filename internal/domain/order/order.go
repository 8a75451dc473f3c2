package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrMissingEmail           = errors.New("order: customer email is required")
	ErrMissingOrderNumber     = errors.New("order: order number is required")
	ErrNoItems                = errors.New("order: at least one line item is required")
	ErrInvalidQuantity        = errors.New("order: line item quantity must be greater than zero")
	ErrInvalidPrice           = errors.New("order: line item price must be zero or greater")
	ErrInvalidStateTransition = errors.New("order: invalid payment status transition")
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type LineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	Image     string
}

// Order is the persisted record of a checkout attempt that reached payment.
// GatewayRef embeds the payment tracking handle once the order is written;
// the handle is not persisted anywhere else.
type Order struct {
	ID               string
	OrderNumber      string
	ConfirmationCode string
	PaymentStatus    PaymentStatus
	Amount           int64
	PaymentMethod    string
	CreatedAt        time.Time
	ReceivedAt       time.Time

	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CustomerID    string

	Items []LineItem

	GatewayRef    string
	ReceiptNumber string
}

// New builds a pending order. Identifier, confirmation code, and receipt
// timestamp are assigned by the recorder, not here.
func New(orderNumber, customerName, customerEmail, customerPhone, customerID string, items []LineItem, amount int64, paymentMethod string) (*Order, error) {
	o := &Order{
		OrderNumber:   orderNumber,
		PaymentStatus: PaymentPending,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		CreatedAt:     time.Now().UTC(),
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		CustomerPhone: customerPhone,
		CustomerID:    customerID,
		Items:         items,
	}
	if err := o.ValidatePayload(); err != nil {
		return nil, err
	}
	return o, nil
}

// ValidatePayload checks the recorder's admission invariants.
func (o *Order) ValidatePayload() error {
	if o.OrderNumber == "" {
		return ErrMissingOrderNumber
	}
	if o.CustomerEmail == "" {
		return ErrMissingEmail
	}
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return ErrInvalidPrice
		}
	}
	return nil
}

// MarkPaid transitions pending -> paid. Terminal statuses never move back.
func (o *Order) MarkPaid(receiptNumber string) error {
	if o.PaymentStatus != PaymentPending {
		return ErrInvalidStateTransition
	}
	o.PaymentStatus = PaymentPaid
	o.ReceiptNumber = receiptNumber
	return nil
}

// MarkFailed transitions pending -> failed.
func (o *Order) MarkFailed() error {
	if o.PaymentStatus != PaymentPending {
		return ErrInvalidStateTransition
	}
	o.PaymentStatus = PaymentFailed
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	return &clone
}
