package channel

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth means the channel rejected the credential.
	ErrAuth = errors.New("channel: authentication rejected")
	// ErrPermanent means the request will not succeed on retry.
	ErrPermanent = errors.New("channel: permanent failure")
	// ErrTransient means the request may succeed on retry.
	ErrTransient = errors.New("channel: transient failure")
)

// DeliveryError is a non-2xx response from the channel API.
type DeliveryError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("channel returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes the classification sentinel.
func (e *DeliveryError) Unwrap() error { return e.kind }

// ClassifyHTTPStatus maps a response status to nil or a DeliveryError
// wrapping ErrAuth, ErrPermanent or ErrTransient.
func ClassifyHTTPStatus(statusCode int, body string) error {
	de := &DeliveryError{StatusCode: statusCode, Body: body}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		de.kind = ErrAuth

	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusRequestTimeout:
		// Rate limited or timed out upstream - always transient.
		de.kind = ErrTransient

	case statusCode >= 400 && statusCode < 500:
		de.kind = ErrPermanent

	default:
		de.kind = ErrTransient
	}

	return de
}

// IsPermanent returns true if the error should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsTransient returns true if the error may succeed on retry. Unknown
// errors are treated as transient to avoid data loss.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}
