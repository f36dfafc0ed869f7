package orch

import (
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/domain"
)

// Error codes carried by outbound error events.
const (
	CodeUnidentified    = "unidentified"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeBadPayload      = "bad_payload"
	CodeRateLimited     = "rate_limited"
	CodeClosed          = "closed"
	CodeInternal        = "internal"
)

func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnidentified):
		return CodeUnidentified
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return CodeBadPayload
	case errors.Is(err, app.ErrConnClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}
