package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrGateway wraps every failure returned by the exchange gateway.
	ErrGateway = errors.New("gateway call failed")

	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrGateway)
	ErrTransport         = fmt.Errorf("%w: transport error", ErrGateway)

	ErrDecode       = errors.New("decode failed")
	ErrInvalidID    = errors.New("invalid id")
	ErrInvalidOrder = errors.New("invalid order")
)

// APIError is a non-zero application status returned by the exchange.
type APIError struct {
	Context string
	Code    int
	Msg     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error (%s): retCode=%d retMsg=%s", e.Context, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return ErrGateway }
