// Package internal wires the deposit and withdrawal flows end to end:
// PSP charges in, vault positions out, every provider interaction
// recorded through the idempotent ledger.
package internal

import (
	"context"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/domain"
	"github.com/defybank/rails/internal/services/execution"
	"github.com/defybank/rails/internal/services/psp"
	"github.com/defybank/rails/internal/services/quote"
	"github.com/defybank/rails/internal/services/vault"
	"github.com/defybank/rails/internal/storage/providertx"
)

// OrchestratorConfig fixes the asset pair and tolerances the flows
// operate on.
type OrchestratorConfig struct {
	// BaseAsset is the vault underlying, e.g. "USDC".
	BaseAsset string
	// QuoteAsset is the fiat side collected and paid through the PSP,
	// e.g. "BRL".
	QuoteAsset string
	// SlippageBps bounds how far a settled conversion may land below the
	// quoted amount.
	SlippageBps int
	// PSPName tags ledger records, e.g. "pix".
	PSPName string
}

// DepositIntent is a created deposit awaiting payment.
type DepositIntent struct {
	TxID   string
	Charge psp.Charge
}

// WithdrawReceipt reports a completed withdrawal.
type WithdrawReceipt struct {
	TxID              string
	RedeemedBaseUnits *big.Int
	PaidQuoteMinor    *big.Int
	EndToEndID        string
}

// Orchestrator drives deposits (fiat in, vault shares out) and
// withdrawals (shares in, fiat out). Every step that talks to a
// provider goes through the ledger first, so replayed webhooks and
// retried calls converge on one outcome.
type Orchestrator struct {
	cfg      OrchestratorConfig
	decimals *quote.Registry
	vault    vault.Provider
	venue    execution.Venue
	psp      psp.PSP
	ledger   *providertx.Store
	logger   *zap.Logger
}

// NewOrchestrator assembles the flow engine from its collaborators.
func NewOrchestrator(
	cfg OrchestratorConfig,
	decimals *quote.Registry,
	vaultProvider vault.Provider,
	venue execution.Venue,
	paymentProvider psp.PSP,
	ledger *providertx.Store,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if cfg.BaseAsset == "" {
		cfg.BaseAsset = "USDC"
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "BRL"
	}
	if cfg.PSPName == "" {
		cfg.PSPName = "pix"
	}
	if decimals == nil || vaultProvider == nil || venue == nil || paymentProvider == nil || ledger == nil {
		return nil, errors.New("orchestrator is missing a collaborator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		decimals: decimals,
		vault:    vaultProvider,
		venue:    venue,
		psp:      paymentProvider,
		ledger:   ledger,
		logger:   logger,
	}, nil
}

// CreateDeposit opens a deposit: a PSP charge the user pays in the
// quote asset. The charge id doubles as the ledger external id, so the
// whole deposit lifecycle hangs off one key.
func (o *Orchestrator) CreateDeposit(ctx context.Context, userID string, amountQuoteMinor *big.Int) (DepositIntent, error) {
	if userID == "" {
		return DepositIntent{}, errors.New("user id is required")
	}
	if amountQuoteMinor == nil || amountQuoteMinor.Sign() <= 0 {
		return DepositIntent{}, errors.Wrap(domain.ErrInvalidAmount, "deposit amount")
	}

	txid := newTxID()
	charge, err := o.psp.CreateCharge(ctx, psp.ChargeArgs{
		TxID:        txid,
		AmountMinor: amountQuoteMinor,
	})
	if err != nil {
		return DepositIntent{}, errors.Wrap(err, "create deposit charge")
	}

	if _, err := o.ledger.Upsert(providertx.UpsertArgs{
		Provider:       o.cfg.PSPName,
		Kind:           domain.TxKindDeposit,
		ExternalID:     txid,
		Status:         domain.TxStatusStarted,
		UserID:         userID,
		AmountInMinor:  amountQuoteMinor,
		AssetCode:      o.cfg.QuoteAsset,
		InteractiveURL: charge.CopyPaste,
	}); err != nil {
		return DepositIntent{}, errors.Wrap(err, "record deposit intent")
	}

	o.logger.Info("deposit created",
		zap.String("txid", txid),
		zap.String("user", userID),
		zap.String("amount", amountQuoteMinor.String()))

	return DepositIntent{TxID: txid, Charge: charge}, nil
}

// HandlePixPaid settles a paid charge: prices the received fiat into the
// base asset and deposits it into the vault under the user's position.
// Safe to replay; a second delivery of the same event re-runs into the
// ledger's idempotent upserts and the vault's idempotency key.
func (o *Orchestrator) HandlePixPaid(ctx context.Context, evt psp.PixPaidEvent) error {
	rec := o.ledger.Get(o.cfg.PSPName, evt.TxID)
	if rec == nil {
		return errors.Errorf("pix paid for unknown txid %s", evt.TxID)
	}
	if rec.Status.Terminal() {
		o.logger.Info("pix paid replay on settled deposit, ignoring", zap.String("txid", evt.TxID))
		return nil
	}

	if _, err := o.ledger.Upsert(providertx.UpsertArgs{
		Provider:      o.cfg.PSPName,
		Kind:          domain.TxKindDeposit,
		ExternalID:    evt.TxID,
		Status:        domain.TxStatusPending,
		AmountInMinor: evt.AmountMinor,
		Metadata:      map[string]string{"psp_ref": evt.PSPRef},
	}); err != nil {
		return errors.Wrap(err, "mark deposit pending")
	}

	out, err := o.settleDeposit(ctx, rec.UserID, evt)
	if err != nil {
		if _, uerr := o.ledger.Upsert(providertx.UpsertArgs{
			Provider:   o.cfg.PSPName,
			Kind:       domain.TxKindDeposit,
			ExternalID: evt.TxID,
			Status:     domain.TxStatusFailed,
			Metadata:   map[string]string{"error": err.Error()},
		}); uerr != nil {
			o.logger.Error("failed to record deposit failure", zap.String("txid", evt.TxID), zap.Error(uerr))
		}
		return errors.Wrapf(err, "settle deposit %s", evt.TxID)
	}

	if _, err := o.ledger.Upsert(providertx.UpsertArgs{
		Provider:       o.cfg.PSPName,
		Kind:           domain.TxKindDeposit,
		ExternalID:     evt.TxID,
		Status:         domain.TxStatusCompleted,
		AmountOutMinor: out,
		AssetCode:      o.cfg.QuoteAsset,
	}); err != nil {
		return errors.Wrap(err, "mark deposit completed")
	}

	o.logger.Info("deposit settled",
		zap.String("txid", evt.TxID),
		zap.String("base_units", out.String()))
	return nil
}

// settleDeposit converts the paid fiat amount into base units at the
// venue's current price and deposits them into the vault.
func (o *Orchestrator) settleDeposit(ctx context.Context, userID string, evt psp.PixPaidEvent) (*big.Int, error) {
	price, err := o.venuePrice(ctx)
	if err != nil {
		return nil, err
	}

	q, err := quote.ExactIn(o.decimals, evt.AmountMinor, o.cfg.QuoteAsset, o.cfg.BaseAsset, price, quote.RoundHalfUp, o.cfg.SlippageBps)
	if err != nil {
		return nil, errors.Wrap(err, "quote deposit")
	}

	res, err := o.vault.Deposit(ctx, vault.DepositArgs{
		UserID:          userID,
		AmountBaseUnits: q.ExpectedOutMinor,
		AssetSymbol:     o.cfg.BaseAsset,
		IdempotencyKey:  "vault:" + evt.TxID,
		Metadata: map[string]string{
			"txid":    evt.TxID,
			"min_out": q.MinOutMinor.String(),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "vault deposit")
	}

	o.logger.Debug("vault deposit confirmed",
		zap.String("txid", evt.TxID),
		zap.String("external_id", res.ExternalID),
		zap.String("shares", res.Shares.String()))
	return q.ExpectedOutMinor, nil
}

// Withdraw redeems vault shares, sells the proceeds for the quote asset
// and pays the user out over the PSP. The generated txid keys every
// provider call, so a retried withdrawal cannot redeem or pay twice.
func (o *Orchestrator) Withdraw(ctx context.Context, userID string, shares *big.Int, pixKey string) (WithdrawReceipt, error) {
	if userID == "" {
		return WithdrawReceipt{}, errors.New("user id is required")
	}
	if shares == nil || shares.Sign() <= 0 {
		return WithdrawReceipt{}, errors.Wrap(domain.ErrInvalidAmount, "withdraw shares")
	}
	if pixKey == "" {
		return WithdrawReceipt{}, errors.New("pix key is required")
	}

	txid := newTxID()
	if _, err := o.ledger.Upsert(providertx.UpsertArgs{
		Provider:   o.cfg.PSPName,
		Kind:       domain.TxKindWithdraw,
		ExternalID: txid,
		Status:     domain.TxStatusStarted,
		UserID:     userID,
		AssetCode:  o.cfg.BaseAsset,
	}); err != nil {
		return WithdrawReceipt{}, errors.Wrap(err, "record withdraw intent")
	}

	receipt, err := o.executeWithdraw(ctx, userID, shares, pixKey, txid)
	if err != nil {
		if _, uerr := o.ledger.Upsert(providertx.UpsertArgs{
			Provider:   o.cfg.PSPName,
			Kind:       domain.TxKindWithdraw,
			ExternalID: txid,
			Status:     domain.TxStatusFailed,
			Metadata:   map[string]string{"error": err.Error()},
		}); uerr != nil {
			o.logger.Error("failed to record withdraw failure", zap.String("txid", txid), zap.Error(uerr))
		}
		return WithdrawReceipt{}, errors.Wrapf(err, "withdraw %s", txid)
	}

	if _, err := o.ledger.Upsert(providertx.UpsertArgs{
		Provider:       o.cfg.PSPName,
		Kind:           domain.TxKindWithdraw,
		ExternalID:     txid,
		Status:         domain.TxStatusCompleted,
		AmountInMinor:  receipt.RedeemedBaseUnits,
		AmountOutMinor: receipt.PaidQuoteMinor,
		Metadata:       map[string]string{"end_to_end_id": receipt.EndToEndID},
	}); err != nil {
		return WithdrawReceipt{}, errors.Wrap(err, "mark withdraw completed")
	}

	o.logger.Info("withdraw settled",
		zap.String("txid", txid),
		zap.String("paid", receipt.PaidQuoteMinor.String()))
	return receipt, nil
}

func (o *Orchestrator) executeWithdraw(ctx context.Context, userID string, shares *big.Int, pixKey, txid string) (WithdrawReceipt, error) {
	red, err := o.vault.Withdraw(ctx, vault.WithdrawArgs{
		UserID:         userID,
		Shares:         shares,
		IdempotencyKey: "vault:" + txid,
		Metadata:       map[string]string{"txid": txid},
	})
	if err != nil {
		return WithdrawReceipt{}, errors.Wrap(err, "vault withdraw")
	}

	fill, err := o.venue.Sell(ctx, o.cfg.BaseAsset, red.RedeemedBaseUnits, txid)
	if err != nil {
		return WithdrawReceipt{}, errors.Wrap(err, "sell redeemed units")
	}

	if expected := o.expectedQuoteMinor(ctx, red.RedeemedBaseUnits); expected != nil {
		floor := quote.SlippageDown(expected, o.cfg.SlippageBps)
		if fill.ReceivedQuoteMinor.Cmp(floor) < 0 {
			return WithdrawReceipt{}, errors.Errorf("fill %s below slippage floor %s",
				fill.ReceivedQuoteMinor, floor)
		}
	}

	pay, err := o.psp.Payout(ctx, psp.PayoutArgs{
		Seed:        txid,
		PixKey:      pixKey,
		AmountMinor: fill.ReceivedQuoteMinor,
		Description: "withdrawal " + txid,
	})
	if err != nil {
		return WithdrawReceipt{}, errors.Wrap(err, "psp payout")
	}

	return WithdrawReceipt{
		TxID:              txid,
		RedeemedBaseUnits: red.RedeemedBaseUnits,
		PaidQuoteMinor:    fill.ReceivedQuoteMinor,
		EndToEndID:        pay.EndToEndID,
	}, nil
}

// expectedQuoteMinor prices redeemed base units at the venue's quote;
// nil when the venue cannot quote, in which case the slippage check is
// skipped rather than failing the payout.
func (o *Orchestrator) expectedQuoteMinor(ctx context.Context, baseUnits *big.Int) *big.Int {
	price, err := o.venuePrice(ctx)
	if err != nil {
		o.logger.Warn("no venue price for slippage check", zap.Error(err))
		return nil
	}
	q, err := quote.ExactOut(o.decimals, baseUnits, o.cfg.QuoteAsset, o.cfg.BaseAsset, price, quote.RoundFloor, 0)
	if err != nil {
		o.logger.Warn("cannot price redeemed units", zap.Error(err))
		return nil
	}
	return q.ExpectedInMinor
}

// venuePrice fetches the venue price of one whole base unit and scales
// it to the quote asset's whole-unit ratio.
func (o *Orchestrator) venuePrice(ctx context.Context) (domain.Ratio, error) {
	vq, err := o.venue.QuoteSell(ctx, o.cfg.BaseAsset, big.NewInt(1))
	if err != nil {
		return domain.Ratio{}, errors.Wrap(err, "venue quote")
	}
	qd, err := o.decimals.Get(o.cfg.QuoteAsset)
	if err != nil {
		return domain.Ratio{}, err
	}
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(qd)), nil)
	return domain.NewRatio(vq.PriceQuoteMinorPerUnit, den)
}

// ReconcileTreasury reads the treasury position and logs it; invoked on
// an interval so vault drift shows up in operations telemetry.
func (o *Orchestrator) ReconcileTreasury(ctx context.Context) error {
	pos, err := o.vault.TreasuryPosition(ctx)
	if err != nil {
		return errors.Wrap(err, "read treasury position")
	}
	o.logger.Info("treasury position",
		zap.String("provider", string(o.vault.Kind())),
		zap.String("shares", pos.Shares.String()),
		zap.String("principal_base_units", pos.PrincipalBaseUnits.String()))
	return nil
}

// newTxID generates a 32-char alphanumeric id fitting the PSP's charge
// id constraints.
func newTxID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
