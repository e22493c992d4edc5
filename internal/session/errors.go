package session

import (
	"errors"

	"proctor/pkg/interfaces"
)

// Session directory error types
var (
	ErrSessionNotFound    = interfaces.ErrSessionNotFound
	ErrMissingExamContext = errors.New("session requires examId and userId or an explicit sessionId")
	ErrEmptyConnectionID  = errors.New("connection ID cannot be empty")
)
