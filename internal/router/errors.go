package router

import "errors"

// Router-specific errors. A missing live target is reported with
// types.ErrRouteTargetMissing so callers can log it at debug level.
var (
	ErrUnsupportedType = errors.New("envelope type is not a negotiation message")
	ErrMissingTarget   = errors.New("negotiation envelope requires targetId")
	ErrNilSender       = errors.New("sender connection is nil")
)
