// Package psp fronts the fiat payment service provider: PIX charge
// creation, payouts and settlement webhook parsing.
package psp

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/domain"
	"github.com/defybank/rails/internal/services/credentials"
)

// txidPattern is the charge id format the PIX rail accepts.
var txidPattern = regexp.MustCompile(`^[A-Za-z0-9]{26,35}$`)

// ChargeArgs describes a PIX charge to collect money from a user.
type ChargeArgs struct {
	TxID        string
	AmountMinor *big.Int
	PayerName   string
	PayerTaxID  string
}

// Charge is a created PIX charge with its interactive payment material.
type Charge struct {
	TxID      string
	QRCode    string
	CopyPaste string
	Location  string
}

// PayoutArgs describes an outbound PIX payment.
type PayoutArgs struct {
	// Seed derives the deterministic idempotency id for the payment.
	Seed        string
	PixKey      string
	AmountMinor *big.Int
	Description string
}

// Payout reports a submitted PIX payment.
type Payout struct {
	EndToEndID string
	RequestID  string
}

// PixPaidEvent is a settled-charge notification. Providers may deliver
// it more than once; consumers dedupe through the provider tx ledger.
type PixPaidEvent struct {
	Type        string   `json:"type"`
	TxID        string   `json:"txid"`
	PSPRef      string   `json:"psp_ref"`
	AmountMinor *big.Int `json:"amount_minor"`
	ProductID   string   `json:"product_id,omitempty"`
}

// PSP is the payment-service-provider boundary.
type PSP interface {
	CreateCharge(ctx context.Context, args ChargeArgs) (Charge, error)
	Payout(ctx context.Context, args PayoutArgs) (Payout, error)
}

// ValidateTxID checks the 26–35 alphanumeric charge id constraint.
func ValidateTxID(txid string) error {
	if !txidPattern.MatchString(txid) {
		return fmt.Errorf("invalid txid %q: want 26-35 alphanumeric chars", txid)
	}
	return nil
}

// ParseWebhook decodes and validates a settlement notification for the
// given provider.
func ParseWebhook(provider string, rawBody []byte) (PixPaidEvent, error) {
	var evt struct {
		Type        string          `json:"type"`
		TxID        string          `json:"txid"`
		PSPRef      string          `json:"psp_ref"`
		AmountMinor json.RawMessage `json:"amount_minor"`
		ProductID   string          `json:"product_id"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return PixPaidEvent{}, errors.Wrap(err, "malformed webhook payload")
	}

	if evt.Type != "pix.paid" {
		return PixPaidEvent{}, fmt.Errorf("unexpected webhook event type %q", evt.Type)
	}
	if evt.TxID == "" {
		return PixPaidEvent{}, errors.New("webhook payload carries no txid")
	}

	amount := new(big.Int)
	if len(evt.AmountMinor) == 0 {
		return PixPaidEvent{}, errors.New("webhook payload carries no amount")
	}
	if err := amount.UnmarshalJSON(evt.AmountMinor); err != nil {
		return PixPaidEvent{}, errors.Wrap(err, "webhook amount")
	}
	if amount.Sign() <= 0 {
		return PixPaidEvent{}, errors.Wrap(domain.ErrInvalidAmount, "webhook amount")
	}

	ref := evt.PSPRef
	if ref == "" && provider == "mock" {
		ref = "mock-ref"
	}

	return PixPaidEvent{
		Type:        evt.Type,
		TxID:        evt.TxID,
		PSPRef:      ref,
		AmountMinor: amount,
		ProductID:   evt.ProductID,
	}, nil
}

// Config selects and configures the active PSP backend.
type Config struct {
	Provider string
	Pix      PixConfig
}

// New builds the provider chosen by configuration; the mock provider is
// the default.
func New(cfg Config, httpClient *httpx.Client, creds *credentials.Cache, logger *zap.Logger) (PSP, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockPSP(), nil
	case "pix":
		return NewPixProvider(httpClient, creds, cfg.Pix, logger)
	default:
		return nil, fmt.Errorf("unsupported psp provider %q", cfg.Provider)
	}
}
