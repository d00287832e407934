package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var (
	// ErrDuplicateID is returned by creates when the document already exists.
	ErrDuplicateID = errors.New("document already exists")
	// ErrNotFound is returned when the target document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrRateLimited is returned when the store throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork marks transport failures; the request may be retried.
	ErrNetwork = errors.New("network error")
	// ErrUnconfigured is returned when the backend has no collections configured.
	ErrUnconfigured = errors.New("remote backend not configured")
)

var throttleCodes = map[string]struct{}{
	"ThrottlingException":                    {},
	"ProvisionedThroughputExceededException": {},
	"RequestLimitExceeded":                   {},
	"TooManyRequestsException":               {},
	"Throttling":                             {},
}

// Classify maps an SDK or transport error onto the sentinel taxonomy.
// Already classified errors and nil pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrDuplicateID, ErrNotFound, ErrRateLimited, ErrNetwork, ErrUnconfigured} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := throttleCodes[code]; ok {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		if code == "ResourceNotFoundException" {
			return fmt.Errorf("%w: %v", ErrUnconfigured, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return err
}

// IsNetwork reports whether err is a retryable transport failure.
func IsNetwork(err error) bool {
	return errors.Is(Classify(err), ErrNetwork)
}

// IsRateLimited reports whether the store throttled the request.
func IsRateLimited(err error) bool {
	return errors.Is(Classify(err), ErrRateLimited)
}
