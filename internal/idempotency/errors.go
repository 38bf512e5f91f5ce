package idempotency

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKey: a mutating request arrived without an idempotency key.
	ErrMissingKey = errors.New("idempotency key missing")
	// ErrKeyReuseConflict: the key was reused under the same scope with a different payload.
	ErrKeyReuseConflict = errors.New("idempotency key reused with different payload")
	// ErrRequestInFlight: the original request for this key is still in progress.
	ErrRequestInFlight = errors.New("request with this idempotency key is in progress")
	// ErrUnfingerprintable: the request payload has no canonical form, e.g. object keys that
	// collide after Unicode normalization.
	ErrUnfingerprintable = errors.New("request payload cannot be fingerprinted")
	// ErrDuplicateKey: create lost the race for (key, scope). Recovered by re-reading.
	ErrDuplicateKey = errors.New("idempotency record already exists")
	// ErrNotInProgress: an update targeted a record that is absent or already finished.
	ErrNotInProgress = errors.New("idempotency record is not in progress")
	// ErrStorage matches every *StorageError with errors.Is.
	ErrStorage = errors.New("idempotency storage failure")
)

// StorageError wraps an underlying store failure for operation Op.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("idempotency store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
