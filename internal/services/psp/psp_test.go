package psp

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defybank/rails/internal/domain"
)

func TestValidateTxID(t *testing.T) {
	assert.NoError(t, ValidateTxID(strings.Repeat("a", 26)), "26 chars must pass")
	assert.NoError(t, ValidateTxID(strings.Repeat("Z9", 17)), "34 chars must pass")
	assert.Error(t, ValidateTxID(strings.Repeat("a", 25)), "25 chars must fail")
	assert.Error(t, ValidateTxID(strings.Repeat("a", 36)), "36 chars must fail")
	assert.Error(t, ValidateTxID(strings.Repeat("a", 20)+"-with-dash"), "Non-alphanumeric must fail")
	assert.Error(t, ValidateTxID(""), "Empty txid must fail")
}

func TestParseWebhook(t *testing.T) {
	raw := []byte(`{"type":"pix.paid","txid":"abcdefghijklmnopqrstuvwxyz","psp_ref":"e2e-1","amount_minor":1050}`)

	evt, err := ParseWebhook("pix", raw)
	require.NoError(t, err, "ParseWebhook failed")
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", evt.TxID, "TxID mismatch")
	assert.Equal(t, "e2e-1", evt.PSPRef, "PSP ref mismatch")
	assert.Equal(t, "1050", evt.AmountMinor.String(), "Amount mismatch")
}

func TestParseWebhook_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrong event type", `{"type":"pix.refunded","txid":"t","amount_minor":1}`},
		{"missing txid", `{"type":"pix.paid","amount_minor":1}`},
		{"missing amount", `{"type":"pix.paid","txid":"t"}`},
		{"garbage json", `{"type":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWebhook("pix", []byte(tc.body))
			assert.Error(t, err, "Expected rejection")
		})
	}
}

func TestParseWebhook_NonPositiveAmount(t *testing.T) {
	_, err := ParseWebhook("pix", []byte(`{"type":"pix.paid","txid":"t","amount_minor":0}`))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount, "Zero amount must surface the sentinel")

	_, err = ParseWebhook("pix", []byte(`{"type":"pix.paid","txid":"t","amount_minor":-5}`))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount, "Negative amount must surface the sentinel")
}

func TestUUIDFromSeed(t *testing.T) {
	a := UUIDFromSeed("withdraw-1")
	b := UUIDFromSeed("withdraw-1")
	c := UUIDFromSeed("withdraw-2")

	assert.Equal(t, a, b, "Same seed must yield the same id")
	assert.NotEqual(t, a, c, "Different seeds must yield different ids")

	parsed, err := uuid.Parse(a)
	require.NoError(t, err, "Derived id must be a parseable uuid")
	assert.Equal(t, uuid.Version(4), parsed.Version(), "Derived id must carry the v4 version bits")
}

func TestMockPSP_ChargeIdempotent(t *testing.T) {
	m := NewMockPSP()
	args := ChargeArgs{
		TxID:        strings.Repeat("a", 30),
		AmountMinor: big.NewInt(1050),
	}

	first, err := m.CreateCharge(context.Background(), args)
	require.NoError(t, err, "CreateCharge failed")
	require.NotEmpty(t, first.CopyPaste, "Charge must carry payment material")

	second, err := m.CreateCharge(context.Background(), args)
	require.NoError(t, err, "Replayed CreateCharge failed")
	assert.Equal(t, first, second, "Replay must return the recorded charge")
}

func TestMockPSP_ChargeValidation(t *testing.T) {
	m := NewMockPSP()

	_, err := m.CreateCharge(context.Background(), ChargeArgs{TxID: "short", AmountMinor: big.NewInt(1)})
	assert.Error(t, err, "Invalid txid must fail")

	_, err = m.CreateCharge(context.Background(), ChargeArgs{TxID: strings.Repeat("a", 30)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount, "Missing amount must surface the sentinel")
}

func TestMockPSP_PayoutIdempotentPerSeed(t *testing.T) {
	m := NewMockPSP()
	args := PayoutArgs{
		Seed:        "withdraw-9",
		PixKey:      "user@bank",
		AmountMinor: big.NewInt(200),
	}

	first, err := m.Payout(context.Background(), args)
	require.NoError(t, err, "Payout failed")
	second, err := m.Payout(context.Background(), args)
	require.NoError(t, err, "Replayed payout failed")

	assert.Equal(t, first, second, "Same seed must pay exactly once")
	assert.Equal(t, UUIDFromSeed("withdraw-9"), first.RequestID, "Request id must derive from the seed")
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(Config{}, nil, nil, nil)
	require.NoError(t, err, "Default provider failed")
	_, ok := p.(*MockPSP)
	assert.True(t, ok, "Default provider must be the mock")

	_, err = New(Config{Provider: "stripe"}, nil, nil, nil)
	assert.Error(t, err, "Unknown provider must fail")

	_, err = New(Config{Provider: "pix"}, nil, nil, nil)
	assert.Error(t, err, "PIX without base URL must fail")
}
