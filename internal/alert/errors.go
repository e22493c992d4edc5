package alert

import "errors"

var (
	ErrNilSender          = errors.New("alert sender connection is nil")
	ErrUnauthorizedSender = errors.New("only student connections may raise alerts")
)
