package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityRejected — актор не прошел проверку, запись не выполнялась.
	ErrIdentityRejected = errors.New("audit: identity rejected")
	// ErrStorageFailed — все попытки записи исчерпаны.
	ErrStorageFailed = errors.New("audit: storage failed")
)

type IdentityError struct {
	Actor string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("audit: identity %q rejected", e.Actor)
}

func (e *IdentityError) Is(target error) bool {
	return target == ErrIdentityRejected
}

// StorageError несет последнюю ошибку хранилища и число сделанных попыток.
type StorageError struct {
	Attempts uint
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit: write failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailed
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
