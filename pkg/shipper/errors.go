package shipper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the engine's error taxonomy.
var (
	// ErrCredentialUnavailable indicates no provider credential is configured or obtainable.
	ErrCredentialUnavailable = errors.New("provider credential unavailable")

	// ErrRefreshFailed indicates the provider rejected or never answered a token refresh.
	ErrRefreshFailed = errors.New("provider token refresh failed")

	// ErrProviderUnreachable indicates the provider produced no response (network error, timeout).
	ErrProviderUnreachable = errors.New("provider unreachable")

	// ErrOrderNotFound indicates the order does not exist in the Order Store.
	ErrOrderNotFound = errors.New("order not found")

	// ErrShipmentNotFound indicates no local shipment matches the lookup.
	ErrShipmentNotFound = errors.New("shipment not found")

	// ErrShipmentAlreadyExists indicates the order already has a provider shipment.
	ErrShipmentAlreadyExists = errors.New("shipment already exists for order")

	// ErrNoProviderOrder indicates the shipment was never accepted by the provider.
	ErrNoProviderOrder = errors.New("shipment has no provider order")

	// ErrNoValidShipments indicates none of the requested shipments has a provider order.
	ErrNoValidShipments = errors.New("no valid shipments")

	// ErrInvalidSignature indicates a webhook signature did not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidRequest indicates a caller supplied malformed input.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError is an error response returned by the provider.
type ProviderError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s failed (%d %s): %s", e.Operation, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s failed (%d): %s", e.Operation, e.StatusCode, e.Message)
}

// Is implements errors.Is for ProviderError. Errors match on code, or on
// status code when neither carries a code.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	if e.Code != "" || t.Code != "" {
		return e.Code == t.Code
	}
	return e.StatusCode == t.StatusCode
}

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable returns true if the error is a transient provider failure.
// Unreachable errors are not retryable here: the request may have been applied.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	return false
}

// AsProviderError extracts a ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}
