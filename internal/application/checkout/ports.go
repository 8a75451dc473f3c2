package checkout

import (
	"context"

	domorder "github.com/sokoline/storefront/internal/domain/order"
)

// OrderRecorder persists a confirmed order and returns its document id.
// replayed reports that an order with the same order number already existed.
type OrderRecorder interface {
	Record(ctx context.Context, ord *domorder.Order) (id string, replayed bool, err error)
}

// StockAdjuster decrements stock for one product and returns the new value.
type StockAdjuster interface {
	Adjust(ctx context.Context, productID string, quantity int) (newStock int, err error)
}
