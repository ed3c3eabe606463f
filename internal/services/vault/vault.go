// Package vault unifies deposit/withdraw/position semantics across the
// on-chain vault contract and the external index aggregator. Amounts are
// always base units of the underlying asset; callers normalize decimals
// through the quoting engine first.
package vault

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"github.com/defybank/rails/internal/domain"
)

// TreasuryUserID is the pseudo-user aggregating the protocol-owned position.
const TreasuryUserID = "treasury"

// DepositArgs describes a vault deposit.
type DepositArgs struct {
	UserID          string
	AmountBaseUnits *big.Int
	AssetSymbol     string
	IdempotencyKey  string
	Metadata        map[string]string
}

// WithdrawArgs describes a vault withdrawal by shares.
type WithdrawArgs struct {
	UserID         string
	Shares         *big.Int
	IdempotencyKey string
	Metadata       map[string]string
}

// DepositResult reports the shares issued by a deposit.
type DepositResult struct {
	ExternalID string
	Shares     *big.Int
}

// WithdrawResult reports the base units redeemed by a withdrawal.
type WithdrawResult struct {
	ExternalID        string
	RedeemedBaseUnits *big.Int
}

// Provider is the vault capability interface. Deposit and Withdraw must
// be safe to call twice with the same idempotency key without double
// execution; how the key is enforced is backend-specific.
type Provider interface {
	Kind() domain.VaultProviderKind
	Deposit(ctx context.Context, args DepositArgs) (DepositResult, error)
	Withdraw(ctx context.Context, args WithdrawArgs) (WithdrawResult, error)
	Position(ctx context.Context, userID string) (*domain.Position, error)
	TreasuryPosition(ctx context.Context) (*domain.Position, error)
}

func (a DepositArgs) validate() error {
	if a.UserID == "" || a.IdempotencyKey == "" {
		return errors.New("user id and idempotency key are required")
	}
	if a.AmountBaseUnits == nil || a.AmountBaseUnits.Sign() <= 0 {
		return errors.Wrap(domain.ErrInvalidAmount, "deposit amount")
	}
	return nil
}

func (a WithdrawArgs) validate() error {
	if a.UserID == "" || a.IdempotencyKey == "" {
		return errors.New("user id and idempotency key are required")
	}
	if a.Shares == nil || a.Shares.Sign() <= 0 {
		return errors.Wrap(domain.ErrInvalidAmount, "withdraw shares")
	}
	return nil
}
