package store

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound is returned when no readable version of a resource exists.
	ErrResourceNotFound = errors.New("versiondb: resource not found")

	// ErrResourceVersionNotFound is returned when a specific version doesn't exist.
	ErrResourceVersionNotFound = errors.New("versiondb: resource version not found")

	// ErrAlreadyExists is returned when creating a resource with an id that is already taken.
	ErrAlreadyExists = errors.New("versiondb: resource already exists")

	// ErrConcurrentModification is returned when a conditional status change lost a race.
	ErrConcurrentModification = errors.New("versiondb: resource was modified concurrently")

	// ErrInvalidResource is returned when a stored item or request payload is malformed.
	ErrInvalidResource = errors.New("versiondb: invalid resource")

	// ErrBatchNotSupported is returned by Batch; only transactional bundles are supported.
	ErrBatchNotSupported = errors.New("versiondb: batch operation is not supported")
)

// ResourceNotFoundError identifies the resource that could not be found.
// It matches ErrResourceNotFound with errors.Is.
type ResourceNotFoundError struct {
	ResourceType string
	ID           string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("versiondb: resource %s/%s is not known", e.ResourceType, e.ID)
}

func (e *ResourceNotFoundError) Is(target error) bool {
	return target == ErrResourceNotFound
}

// ResourceVersionNotFoundError identifies the version that could not be found.
// It matches ErrResourceVersionNotFound with errors.Is.
type ResourceVersionNotFoundError struct {
	ResourceType string
	ID           string
	VID          int64
}

func (e *ResourceVersionNotFoundError) Error() string {
	return fmt.Sprintf("versiondb: version %d of resource %s/%s is not known", e.VID, e.ResourceType, e.ID)
}

func (e *ResourceVersionNotFoundError) Is(target error) bool {
	return target == ErrResourceVersionNotFound
}

// TransactionError is returned by the single-resource operations that run
// through the transaction coordinator when the bundle did not commit.
type TransactionError struct {
	Type    ErrorType
	Message string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("versiondb: transaction failed (%s): %s", e.Type, e.Message)
}
