package notify

import (
	"context"
	"time"
)

// Event is any notification with a name identifier.
type Event interface {
	EventName() string
}

// Handler processes a published event.
type Handler func(ctx context.Context, e Event) error

// Publisher delivers events best-effort: a failed publish is logged by the
// caller and never fails the primary flow.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// OrderCompletedEvent is emitted after a checkout attempt reaches its
// terminal completed state.
type OrderCompletedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Amount      int64     `json:"amount"`
	Receipt     string    `json:"receipt"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (OrderCompletedEvent) EventName() string { return "order.completed" }
