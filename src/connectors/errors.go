package connectors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature aborts the operation; the credentials or clock are wrong.
	ErrInvalidSignature = errors.New("exchange rejected request signature")
	// ErrInsufficientBalance fails the current attempt only.
	ErrInsufficientBalance = errors.New("insufficient balance or margin")
	// ErrTransient marks failures worth an immediate retry.
	ErrTransient = errors.New("transient exchange error")
	// ErrRateLimited is a transient error caused by request throttling.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrTransient)
)

// UnknownCodeError carries an exchange return code this client does not recognise.
type UnknownCodeError struct {
	Exchange string
	Code     int64
	Msg      string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("%s: unknown return code %d: %s", e.Exchange, e.Code, e.Msg)
}

// RejectedError is a recognised business rejection such as an invalid price or quantity.
type RejectedError struct {
	Exchange string
	Code     int64
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: order rejected (%d %s)", e.Exchange, e.Code, e.Reason)
}

// IsRetryable reports whether err may succeed on an immediate retry.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err must abort the caller instead of skipping one attempt.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

// IsUnknown reports whether err carries an unrecognised exchange code.
func IsUnknown(err error) bool {
	var unknown *UnknownCodeError
	return errors.As(err, &unknown)
}

// transient wraps a transport failure so it is retried.
func transient(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// classifyHTTPStatus maps transport level statuses shared by every exchange.
func classifyHTTPStatus(exchange string, status int, body string) error {
	switch {
	case status == 200:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%s HTTP %d: %w: %s", exchange, status, ErrInvalidSignature, body)
	case status == 429:
		return fmt.Errorf("%s HTTP %d: %w: %s", exchange, status, ErrRateLimited, body)
	case status == 408 || (status >= 500 && status <= 599):
		return fmt.Errorf("%s HTTP %d: %w: %s", exchange, status, ErrTransient, body)
	default:
		return fmt.Errorf("%s HTTP %d: %s", exchange, status, body)
	}
}
