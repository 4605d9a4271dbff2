// Package payment runs the pay-by-code checkout flow: request a payment
// code for the basket total, wait for the shopper to scan it, then confirm.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/orders"
)

// State is the payment flow state.
type State int

const (
	AwaitingAmount State = iota
	CodeRequested
	AwaitingScan
	Confirmed
)

func (s State) String() string {
	switch s {
	case AwaitingAmount:
		return "awaiting_amount"
	case CodeRequested:
		return "code_requested"
	case AwaitingScan:
		return "awaiting_scan"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sentinel errors for the payment flow.
var (
	// ErrGuardFailure is returned when the flow is entered without a usable
	// amount. The navigator has already been sent back to the entry screen.
	ErrGuardFailure = errors.New("payment: no valid amount")

	// ErrCodeIssuance is returned when a payment code could not be obtained.
	ErrCodeIssuance = errors.New("payment: code issuance failed")

	// ErrInvalidTransition is returned for operations the current state
	// does not allow.
	ErrInvalidTransition = errors.New("payment: invalid transition")

	// ErrNoSession is returned when no payment is in progress.
	ErrNoSession = errors.New("payment: no active session")
)

// APIError is a non-200 response from the code issuer.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("payment: issuer error %d: %s", e.StatusCode, e.Message)
}

// Is makes every APIError match ErrCodeIssuance.
func (e *APIError) Is(target error) bool {
	return target == ErrCodeIssuance
}

// CodeIssuer obtains a scannable payment code reference for an amount.
type CodeIssuer interface {
	IssueCode(ctx context.Context, amount float64) (string, error)
}

// IssuerFunc adapts a function to CodeIssuer.
type IssuerFunc func(ctx context.Context, amount float64) (string, error)

// IssueCode calls f.
func (f IssuerFunc) IssueCode(ctx context.Context, amount float64) (string, error) {
	return f(ctx, amount)
}

// Navigator moves the shopper between screens.
type Navigator interface {
	// Entry returns to the landing screen.
	Entry()
	// Confirmation shows the completed order.
	Confirmation(orderID string)
}

// OrderStore persists confirmed orders.
type OrderStore interface {
	Save(ctx context.Context, o *orders.Order) error
	SetReceiptURL(ctx context.Context, id, url string) error
}

// Exporter publishes a receipt for a confirmed order.
type Exporter interface {
	Export(ctx context.Context, o *orders.Order) (string, error)
}

// Snapshot is the externally visible state of the current payment.
type Snapshot struct {
	Active    bool               `json:"active"`
	SessionID string             `json:"session_id,omitempty"`
	State     State              `json:"state"`
	Amount    float64            `json:"amount"`
	Items     []catalog.PriceRow `json:"items,omitempty"`
	CodeURL   string             `json:"code_url,omitempty"`
	Error     string             `json:"error,omitempty"`
	OrderID   string             `json:"order_id,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}
