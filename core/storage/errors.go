package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

// IsNotFound reports whether err says the requested object does not exist.
// Only an object-level error code counts: a missing bucket or a 404 without a code
// (a proxy, a wrong endpoint) says nothing about the object and is not reported.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch errorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// UserMetadata returns the user metadata value stored under name. S3 returns the keys
// in canonical header form ("Source" for "source"), so the lookup ignores case.
func UserMetadata(info minio.ObjectInfo, name string) (string, bool) {
	if v, ok := info.UserMetadata[name]; ok {
		return v, true
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, name) || strings.EqualFold(k, "X-Amz-Meta-"+name) {
			return v, true
		}
	}
	return "", false
}

// IsTransient reports whether err is worth retrying: timeouts, dropped connections,
// throttling and server-side failures. Cancellation of the caller is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	resp := errorResponse(err)
	switch resp.Code {
	case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
}

// errorResponse unwraps a minio.ErrorResponse from anywhere in err's chain.
func errorResponse(err error) minio.ErrorResponse {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp
	}
	return minio.ToErrorResponse(err)
}
