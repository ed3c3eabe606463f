package domain

import (
	"math/big"
	"time"
)

// TxKind is the direction of a provider operation.
type TxKind string

const (
	TxKindDeposit  TxKind = "deposit"
	TxKindWithdraw TxKind = "withdraw"
)

// Valid reports whether the kind is one of the known values.
func (k TxKind) Valid() bool {
	return k == TxKindDeposit || k == TxKindWithdraw
}

// TxStatus is the lifecycle state of a provider transaction.
type TxStatus string

const (
	TxStatusStarted   TxStatus = "started"
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// Valid reports whether the status is one of the known values.
func (s TxStatus) Valid() bool {
	switch s {
	case TxStatusStarted, TxStatusPending, TxStatusCompleted, TxStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TxStatus) Terminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Replaying the same status is allowed (at-least-once webhook delivery);
// leaving a terminal status or moving backwards is not.
func (s TxStatus) CanTransition(next TxStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TxStatusStarted:
		return next == TxStatusPending || next == TxStatusCompleted || next == TxStatusFailed
	case TxStatusPending:
		return next == TxStatusCompleted || next == TxStatusFailed
	default:
		return false
	}
}

// ProviderTx is the ledger record for one external-provider operation,
// uniquely identified by (Provider, ExternalID).
type ProviderTx struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	Kind           TxKind            `json:"kind"`
	ExternalID     string            `json:"external_id"`
	Status         TxStatus          `json:"status"`
	UserID         string            `json:"user_id,omitempty"`
	AmountInMinor  *big.Int          `json:"amount_in_minor,omitempty"`
	AmountOutMinor *big.Int          `json:"amount_out_minor,omitempty"`
	AssetCode      string            `json:"asset_code,omitempty"`
	AssetIssuer    string            `json:"asset_issuer,omitempty"`
	InteractiveURL string            `json:"interactive_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out across goroutines.
func (t *ProviderTx) Clone() *ProviderTx {
	if t == nil {
		return nil
	}
	cp := *t
	if t.AmountInMinor != nil {
		cp.AmountInMinor = new(big.Int).Set(t.AmountInMinor)
	}
	if t.AmountOutMinor != nil {
		cp.AmountOutMinor = new(big.Int).Set(t.AmountOutMinor)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
