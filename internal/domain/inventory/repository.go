package inventory

import "context"

// Repository owns the stock records. Adjust applies the delta atomically at
// the store layer and returns the resulting quantity; concurrent adjustments
// against the same product must not lose updates.
type Repository interface {
	Get(ctx context.Context, productID string) (*Item, error)
	Put(ctx context.Context, item *Item) error
	Adjust(ctx context.Context, productID string, delta int) (int, error)
}
