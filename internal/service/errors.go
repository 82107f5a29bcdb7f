package service

import (
	"errors"
	"fmt"

	"gymdesk/internal/domain"
)

// StorageError is a failure of the underlying store. Its message is the store's
// diagnostic, passed through unchanged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr leaves domain sentinels alone and wraps everything else.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrAlreadyExists, domain.ErrBadRequest} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &StorageError{Op: op, Err: err}
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrBadRequest, msg)
}
