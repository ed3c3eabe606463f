package psp

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/domain"
	"github.com/defybank/rails/internal/services/credentials"
)

// PixConfig configures the banking-API PIX provider.
type PixConfig struct {
	BaseURL string
	// ReceiverKey is the PIX key charges are collected into.
	ReceiverKey string
	// ChargeExpirySec is the cob expiration window, default one hour.
	ChargeExpirySec int
}

// PixProvider creates immediate PIX charges and sends payouts through a
// banking API authenticated per scope with short-lived bearer tokens.
type PixProvider struct {
	http    *httpx.Client
	creds   *credentials.Cache
	baseURL string
	cfg     PixConfig
	logger  *zap.Logger
}

// NewPixProvider builds the provider over the shared retrying HTTP
// client and the scoped token cache.
func NewPixProvider(httpClient *httpx.Client, creds *credentials.Cache, cfg PixConfig, logger *zap.Logger) (*PixProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "pix base URL is not configured")
	}
	if cfg.ReceiverKey == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "pix receiver key is not configured")
	}
	if cfg.ChargeExpirySec <= 0 {
		cfg.ChargeExpirySec = 3600
	}
	return &PixProvider{
		http:    httpClient,
		creds:   creds,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// CreateCharge registers an immediate charge under args.TxID. Recreating
// a charge that already exists is treated as success: the existing
// charge is fetched and returned.
func (p *PixProvider) CreateCharge(ctx context.Context, args ChargeArgs) (Charge, error) {
	if err := ValidateTxID(args.TxID); err != nil {
		return Charge{}, err
	}
	if args.AmountMinor == nil || args.AmountMinor.Sign() <= 0 {
		return Charge{}, errors.Wrap(domain.ErrInvalidAmount, "charge amount")
	}

	token, err := p.creds.Token(ctx, "cob")
	if err != nil {
		return Charge{}, err
	}

	body := map[string]any{
		"calendario": map[string]any{"expiracao": p.cfg.ChargeExpirySec},
		"valor": map[string]any{
			"original": minorToFixed2(args.AmountMinor),
		},
		"chave": p.cfg.ReceiverKey,
	}
	if args.PayerTaxID != "" {
		body["devedor"] = map[string]any{
			"cpf":  args.PayerTaxID,
			"nome": args.PayerName,
		}
	}

	var out pixChargeResponse
	url := fmt.Sprintf("%s/cob/%s", p.baseURL, args.TxID)
	err = p.http.PutJSON(ctx, url, body, bearer(token), &out)
	if err != nil {
		// The charge id is deterministic per transaction, so a replayed
		// creation collides with its own earlier success.
		if !strings.Contains(err.Error(), "status 409") {
			return Charge{}, errors.Wrap(err, "create pix charge")
		}
		p.logger.Info("pix charge already exists, fetching it", zap.String("txid", args.TxID))
		if err := p.http.GetJSON(ctx, url, bearer(token), &out); err != nil {
			return Charge{}, errors.Wrap(err, "fetch existing pix charge")
		}
	}

	return Charge{
		TxID:      args.TxID,
		QRCode:    out.PixCopiaECola,
		CopyPaste: out.PixCopiaECola,
		Location:  out.Location,
	}, nil
}

// Payout sends a PIX payment keyed by a deterministic idempotency id so
// a retried payout cannot pay twice.
func (p *PixProvider) Payout(ctx context.Context, args PayoutArgs) (Payout, error) {
	if args.AmountMinor == nil || args.AmountMinor.Sign() <= 0 {
		return Payout{}, errors.Wrap(domain.ErrInvalidAmount, "payout amount")
	}
	if args.PixKey == "" {
		return Payout{}, errors.New("payout pix key is empty")
	}

	token, err := p.creds.Token(ctx, "pay")
	if err != nil {
		return Payout{}, err
	}

	requestID := UUIDFromSeed(args.Seed)
	body := map[string]any{
		"valor":        minorToFixed2(args.AmountMinor),
		"descricao":    args.Description,
		"destinatario": map[string]any{"tipo": "CHAVE", "chave": args.PixKey},
	}

	var out pixPayoutResponse
	url := p.baseURL + "/pagamento/pix"
	headers := bearer(token)
	headers["x-id-idempotente"] = requestID
	if err := p.http.PostJSON(ctx, url, body, headers, &out); err != nil {
		return Payout{}, errors.Wrap(err, "send pix payout")
	}

	return Payout{
		EndToEndID: out.EndToEndID,
		RequestID:  requestID,
	}, nil
}

type pixChargeResponse struct {
	TxID          string `json:"txid"`
	Status        string `json:"status"`
	Location      string `json:"location"`
	PixCopiaECola string `json:"pixCopiaECola"`
}

type pixPayoutResponse struct {
	EndToEndID string `json:"endToEndId"`
	Status     string `json:"status"`
}

// UUIDFromSeed maps an arbitrary seed to a stable RFC 4122 v4-shaped
// uuid, so retries of the same logical operation present the same
// idempotency id.
func UUIDFromSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// minorToFixed2 renders a minor-unit amount as a 2-decimal string, the
// wire format PIX amounts use.
func minorToFixed2(minor *big.Int) string {
	return decimal.NewFromBigInt(minor, -2).StringFixed(2)
}
