package psp

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/defybank/rails/internal/domain"
)

// MockPSP issues fake charges and payouts in memory. Used in
// development and tests.
type MockPSP struct {
	mu      sync.Mutex
	charges map[string]Charge
	payouts map[string]Payout
}

// NewMockPSP creates an empty mock provider.
func NewMockPSP() *MockPSP {
	return &MockPSP{
		charges: make(map[string]Charge),
		payouts: make(map[string]Payout),
	}
}

func (m *MockPSP) CreateCharge(_ context.Context, args ChargeArgs) (Charge, error) {
	if err := ValidateTxID(args.TxID); err != nil {
		return Charge{}, err
	}
	if args.AmountMinor == nil || args.AmountMinor.Sign() <= 0 {
		return Charge{}, errors.Wrap(domain.ErrInvalidAmount, "charge amount")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.charges[args.TxID]; ok {
		return ch, nil
	}
	ch := Charge{
		TxID:      args.TxID,
		QRCode:    "mock-qr-" + args.TxID,
		CopyPaste: "mock-copypaste-" + args.TxID,
		Location:  "mock/cob/" + args.TxID,
	}
	m.charges[args.TxID] = ch
	return ch, nil
}

func (m *MockPSP) Payout(_ context.Context, args PayoutArgs) (Payout, error) {
	if args.AmountMinor == nil || args.AmountMinor.Sign() <= 0 {
		return Payout{}, errors.Wrap(domain.ErrInvalidAmount, "payout amount")
	}
	if args.PixKey == "" {
		return Payout{}, errors.New("payout pix key is empty")
	}

	requestID := UUIDFromSeed(args.Seed)

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payouts[requestID]; ok {
		return p, nil
	}
	p := Payout{
		EndToEndID: "E-mock-" + requestID,
		RequestID:  requestID,
	}
	m.payouts[requestID] = p
	return p, nil
}
