package payment

import (
	"errors"
	"net/http"

	"github.com/noah-isme/payment-relay/internal/common"
)

var (
	// ErrInvalidRequest reports a request the processor should never see.
	ErrInvalidRequest = errors.New("payment: invalid request")
	// ErrInvalidSignature reports a webhook that failed verification.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrRateLookupFailed reports that no exchange rate could be obtained.
	ErrRateLookupFailed = errors.New("payment: exchange rate lookup failed")
	// ErrProcessor reports a failed processor call.
	ErrProcessor = errors.New("payment: processor error")
	// ErrNotFound reports an intent the processor does not know.
	ErrNotFound = errors.New("payment: intent not found")
)

// processorError keeps the processor's own message for the client.
type processorError struct {
	msg string
	err error
}

func (e *processorError) Error() string { return e.msg }
func (e *processorError) Unwrap() []error {
	return []error{ErrProcessor, e.err}
}

// appError maps payment errors onto HTTP responses.
func appError(err error) error {
	var pe *processorError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return common.Validation(err.Error(), err)
	case errors.Is(err, ErrInvalidSignature):
		return common.NewAppError(common.CodeInvalidSignature, "webhook signature verification failed", http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		return common.NewAppError(common.CodeNotFound, "payment intent not found", http.StatusNotFound, err)
	case errors.Is(err, ErrRateLookupFailed):
		return common.NewAppError(common.CodeRateLookup, "exchange rate unavailable", http.StatusInternalServerError, err)
	case errors.As(err, &pe):
		return common.NewAppError(common.CodeProcessor, pe.msg, http.StatusInternalServerError, err)
	case errors.Is(err, ErrProcessor):
		return common.NewAppError(common.CodeProcessor, "payment processor error", http.StatusInternalServerError, err)
	default:
		return err
	}
}
