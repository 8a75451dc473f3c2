package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"

	dompayment "github.com/sokoline/storefront/internal/domain/payment"
)

// gatewayError preserves the raw gateway rejection so callers can log it and
// so the query path can recognise the still-processing error code.
type gatewayError struct {
	status    int
	errorCode string
	message   string
	raw       string
}

func newGatewayError(status int, body []byte) error {
	ge := &gatewayError{status: status, raw: string(body)}

	var envelope struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		ge.errorCode = envelope.ErrorCode
		ge.message = envelope.ErrorMessage
	}
	if ge.message == "" {
		ge.message = ge.raw
	}
	return ge
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", dompayment.ErrGatewayRejected, e.status, e.message)
}

func (e *gatewayError) Unwrap() error { return dompayment.ErrGatewayRejected }

func asGatewayError(err error, target **gatewayError) bool {
	return errors.As(err, target)
}
