package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrorCode returns the service error code carried by err (for example
// "ProvisionedThroughputExceededException"), or "" for non-API errors.
func ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// IsThrottle reports whether err is a throttling error worth redelivering.
func IsThrottle(err error) bool {
	switch ErrorCode(err) {
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded", "TransactionConflictException":
		return true
	}
	return false
}
