package payment

import (
	"context"
	"errors"
)

var (
	ErrInvalidAmount      = errors.New("payment: amount must be greater than zero")
	ErrMissingPhone       = errors.New("payment: phone number is required")
	ErrMissingHandle      = errors.New("payment: tracking handle is required")
	ErrGatewayUnreachable = errors.New("payment: gateway unreachable")
	ErrGatewayRejected    = errors.New("payment: gateway rejected request")
)

// InitiateRequest starts one payment attempt with the gateway.
type InitiateRequest struct {
	Amount      int64
	PhoneNumber string
	OrderNumber string
	UserID      string
}

// TrackingHandle is the gateway-issued identifier for a payment attempt,
// plus the echo fields the gateway returns on initiation. It is owned by the
// caller for the polling window and embedded into the order once recorded.
type TrackingHandle struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

type ResultState string

const (
	ResultPending ResultState = "pending"
	ResultPaid    ResultState = "paid"
	ResultFailed  ResultState = "failed"
)

// StatusPayload carries the gateway's current view of a payment attempt,
// verbatim. State is derived by the client from the gateway result code so
// callers never parse provider-specific codes.
type StatusPayload struct {
	State             ResultState
	ResultCode        string
	ResultDescription string
	Amount            int64
	ReceiptNumber     string
}

// Initiator starts a payment attempt. One outbound call, no local state.
type Initiator interface {
	Initiate(ctx context.Context, req InitiateRequest) (*TrackingHandle, error)
}

// Prober queries the gateway for the current status of a payment attempt.
// Read-only against the gateway; safe to call repeatedly.
type Prober interface {
	Query(ctx context.Context, checkoutRequestID string) (*StatusPayload, error)
}
