package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for mirror operations.
var (
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("request throttled")
	ErrUnavailable        = errors.New("storage unavailable")
)

// Error wraps S3 failures with the operation and object.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s: %s: %v", e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError converts S3 errors to mirror errors with sentinel causes.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &Error{Op: op, Bucket: bucket, Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = ErrUnavailable
		}
		return wrapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		wrapped.Err = ErrBucketNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "403"):
		wrapped.Err = ErrAccessDenied
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "429"):
		wrapped.Err = ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		wrapped.Err = ErrUnavailable
	}
	return wrapped
}
