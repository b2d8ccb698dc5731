package storage

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrDuplicateCredential is returned when a credential hash is already taken
	ErrDuplicateCredential = errors.New("credential already registered")
)
