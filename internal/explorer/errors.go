package explorer

import "errors"

// Sentinel errors surfaced by the Explorer components. Callers should use
// errors.Is against these rather than matching error strings.
var (
	// ErrEmptyWorkspace is returned by any operation that received an empty
	// WorkspaceId where the tenant filter is mandatory.
	ErrEmptyWorkspace = errors.New("explorer: workspace id is required")

	// ErrTenantMismatch indicates a Vector Store search returned a hit
	// whose unique_id didn't match the requested workspace; per spec this
	// is a programming error in the store backend, not a recoverable
	// condition, and the Orchestrator drops the offending hit rather than
	// trusting it.
	ErrTenantMismatch = errors.New("explorer: tenant filter mismatch")
)
