package manager

import "errors"

// Sentinel errors for instance manager operations.
var (
	// ErrInvalidTenantID indicates a malformed or unsafe tenant ID. The ID
	// is rejected before any filesystem or factory call.
	ErrInvalidTenantID = errors.New("invalid tenant ID")

	// ErrProvisioning indicates the tenant working directory could not be
	// created or is not writable. Callers may retry.
	ErrProvisioning = errors.New("working directory provisioning failed")

	// ErrCreationFailed indicates the engine factory failed. The tenant is
	// left absent; the next Acquire retries cleanly. Never retried
	// automatically by the manager.
	ErrCreationFailed = errors.New("engine instance creation failed")

	// ErrTenantNotFound is returned by Evict for a tenant with no live
	// instance.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrShuttingDown rejects calls after Shutdown has begun.
	ErrShuttingDown = errors.New("instance manager is shutting down")
)
