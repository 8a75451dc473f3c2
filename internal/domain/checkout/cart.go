package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart        = errors.New("checkout: cart is empty")
	ErrInvalidQuantity  = errors.New("checkout: quantity must be greater than zero")
	ErrUnpricedProduct  = errors.New("checkout: product has no price")
	ErrMissingOrderNo   = errors.New("checkout: order number is required")
	ErrMissingCustomerE = errors.New("checkout: customer email is required")
)

// Product is the slice of the catalog entry a checkout needs. Price is in
// minor currency units; nil means the catalog never priced the product.
type Product struct {
	ID    string
	Name  string
	Price *int64
	Image string
}

type CartItem struct {
	Product  Product
	Quantity int
}

// GroupedItem is a cart line collapsed by product identity with summed quantity.
type GroupedItem struct {
	Product  Product
	Quantity int
}

// Metadata travels with a single checkout attempt. It is created at session
// start and immutable afterwards.
type Metadata struct {
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CustomerID    string
}

func (m Metadata) Validate() error {
	if m.OrderNumber == "" {
		return ErrMissingOrderNo
	}
	if m.CustomerEmail == "" {
		return ErrMissingCustomerE
	}
	return nil
}

// Group collapses cart items by product id, summing quantities. Order of
// first appearance is preserved so downstream writes stay deterministic.
func Group(items []CartItem) []GroupedItem {
	index := make(map[string]int, len(items))
	grouped := make([]GroupedItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.Product.ID]; ok {
			grouped[i].Quantity += item.Quantity
			continue
		}
		index[item.Product.ID] = len(grouped)
		grouped = append(grouped, GroupedItem{Product: item.Product, Quantity: item.Quantity})
	}
	return grouped
}

// ValidateGrouped enforces the pre-payment invariants: every line priced,
// every quantity positive. It must run before any network call.
func ValidateGrouped(items []GroupedItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.Product.ID)
		}
		if item.Product.Price == nil {
			return fmt.Errorf("%w: product %s", ErrUnpricedProduct, item.Product.ID)
		}
	}
	return nil
}

// Total sums price*quantity across grouped items. Callers must validate first;
// unpriced lines count as zero here.
func Total(items []GroupedItem) int64 {
	var total int64
	for _, item := range items {
		if item.Product.Price == nil {
			continue
		}
		total += *item.Product.Price * int64(item.Quantity)
	}
	return total
}
