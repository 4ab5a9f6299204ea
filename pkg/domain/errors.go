package domain

import "errors"

var (
	// ErrStateCorrupt is returned when the persisted state cannot be parsed.
	ErrStateCorrupt = errors.New("state file is corrupt")

	// ErrCountMismatch is returned when there are fewer proxies than identities.
	ErrCountMismatch = errors.New("proxy count mismatch")

	// ErrMalformedProxy is returned when a proxy entry cannot be parsed.
	ErrMalformedProxy = errors.New("malformed proxy entry")

	// ErrForkTimeout is returned when a fork never became ready within the polling bound.
	ErrForkTimeout = errors.New("timed out waiting for fork")

	// ErrNodeNotFound is returned when a chain index is out of range.
	ErrNodeNotFound = errors.New("fork chain node not found")

	// ErrActiveExists is returned when creating a fork would produce a second Active node.
	ErrActiveExists = errors.New("another fork is already active")

	// ErrForkExhausted is returned when creating a fork whose tracked node is still Exhausted.
	ErrForkExhausted = errors.New("fork is exhausted")

	// ErrNotActive is returned when an operation requires an Active node.
	ErrNotActive = errors.New("fork is not active")

	// ErrSourceImmutable is returned when an operation targets the Source node.
	ErrSourceImmutable = errors.New("source node cannot transition")

	// ErrEmptyPool is returned when no usable identity is configured.
	ErrEmptyPool = errors.New("identity pool is empty")

	// ErrIdentityNotFound is returned when a pool index does not resolve.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrInvalidChain is returned when a state violates a fork chain invariant.
	ErrInvalidChain = errors.New("invalid fork chain")

	// ErrLeaseHeld is returned when another process holds the rotation lease.
	ErrLeaseHeld = errors.New("rotation lease is held by another process")
)
