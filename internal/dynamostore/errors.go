package dynamostore

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-feed-fanout/internal/feed"
)

// transientCodes are DynamoDB error codes that are safe to retry once the SDK's
// own retryer has given up.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"RequestTimeout":                         true,
}

func isConditionalCheckFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// wrapErr annotates err with op and marks retryable failures with
// feed.ErrTransient.
func wrapErr(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%s: %w: %w", op, feed.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
