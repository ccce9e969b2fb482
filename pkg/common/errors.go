package common

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload rejects a whole batch: the payload is not valid structured input.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrInvalidRecord marks a single node or edge that lacks a required field.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrMissingEndpoint is reported for an edge whose source or target node cannot be found.
	ErrMissingEndpoint = errors.New("missing endpoint")
	// ErrBackendUnavailable wraps connectivity and transport failures of a storage backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrSchemaConflict is returned when a backend rejects a category operation.
	ErrSchemaConflict = errors.New("schema conflict")

	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)

// Unavailable wraps err as ErrBackendUnavailable. It returns nil for a nil err.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// SchemaConflict wraps err as ErrSchemaConflict. It returns nil for a nil err.
func SchemaConflict(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSchemaConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSchemaConflict, err)
}

// MissingEndpoint builds the error reported for a dangling edge endpoint.
func MissingEndpoint(role, id string) error {
	return fmt.Errorf("%w: %s node %q not found", ErrMissingEndpoint, role, id)
}
