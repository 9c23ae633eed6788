package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectionFailure indicates the language detector could not produce a result.
	ErrDetectionFailure = errors.New("language detection failed")

	// ErrResponderFailure indicates the responder could not produce a reply.
	ErrResponderFailure = errors.New("responder failed")

	// ErrTranslationFailure indicates the translator could not render a reply.
	ErrTranslationFailure = errors.New("translation failed")

	// ErrStoreClosed indicates an operation on a closed session store.
	ErrStoreClosed = errors.New("session store closed")

	// ErrSessionNotFound indicates a lookup for an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// StorageError reports a failure to persist a mutation. The in-memory state has already
// been updated when it is returned, so callers may keep serving the conversation.
type StorageError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (session %s): %v", e.Op, e.SessionID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
