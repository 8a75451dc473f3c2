package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("inventory: product not found")
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
)

// Item is the stock record for one product. Quantity may go negative: the
// adjuster does not clamp oversell, it only makes the decrement atomic.
type Item struct {
	ProductID string
	Quantity  int
	UpdatedAt time.Time
}

func NewItem(productID string, quantity int) *Item {
	return &Item{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}
}
