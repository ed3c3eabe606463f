package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidAmount reports a non-positive amount supplied to a money operation.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrUnknownSymbol reports a symbol with no registered decimals.
	ErrUnknownSymbol = errors.New("decimals not registered for symbol")

	// ErrLedgerConflict reports a contradictory upsert for an existing provider transaction.
	ErrLedgerConflict = errors.New("conflicting provider transaction upsert")

	// ErrTransientNetwork reports a rate-limit or DNS failure that persisted through retries.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrCredentialConfig reports missing or invalid secret/certificate material.
	ErrCredentialConfig = errors.New("credential configuration is not resolvable")

	// ErrBackendUnavailable reports a vault/provider call that failed after retries.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
