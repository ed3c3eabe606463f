package domain

import (
	"math/big"
	"time"
)

// VaultProviderKind identifies a vault backend.
type VaultProviderKind string

const (
	VaultProviderOnChain    VaultProviderKind = "onchain"
	VaultProviderAggregator VaultProviderKind = "aggregator"

	// VaultProviderSelf is a legacy alias still present in persisted records.
	// Deprecated: use VaultProviderOnChain. Accepted on reads only.
	VaultProviderSelf VaultProviderKind = "self"
)

// NormalizeVaultProviderKind maps the legacy "self" tag to the on-chain
// kind. Applied when reading persisted records; new writes must never
// emit the legacy tag.
func NormalizeVaultProviderKind(k VaultProviderKind) VaultProviderKind {
	if k == VaultProviderSelf {
		return VaultProviderOnChain
	}
	return k
}

// IsVaultProviderKind reports whether k is a parseable kind, legacy alias included.
func IsVaultProviderKind(k VaultProviderKind) bool {
	return k == VaultProviderOnChain || k == VaultProviderAggregator || k == VaultProviderSelf
}

// Position is a point-in-time vault position owned by the backend that
// produced it.
type Position struct {
	UserID             string
	VaultID            string
	Shares             *big.Int
	PrincipalBaseUnits *big.Int
	UpdatedAt          time.Time
}
