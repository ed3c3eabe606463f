package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/domain"
)

// AggregatorConfig configures the external index aggregator backend.
type AggregatorConfig struct {
	BaseURL string
	APIKey  string
	VaultID string
}

// AggregatorProvider talks to the external index aggregator over REST.
// The aggregator receives the Idempotency-Key header, and the provider
// additionally keeps an in-process result table per key so a replayed
// call returns the recorded result without a second upstream submission.
type AggregatorProvider struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	vaultID string
	logger  *zap.Logger

	mu        sync.Mutex
	deposits  map[string]DepositResult
	withdraws map[string]WithdrawResult
}

type aggTxResponse struct {
	ExternalID string `json:"external_id"`
	Shares     string `json:"shares"`
	Redeemed   string `json:"redeemed_base_units"`
}

type aggPositionResponse struct {
	VaultID            string `json:"vault_id"`
	Shares             string `json:"shares"`
	PrincipalBaseUnits string `json:"principal_base_units"`
	UpdatedAt          string `json:"updated_at"`
}

// NewAggregatorProvider builds the aggregator backend.
func NewAggregatorProvider(client *httpx.Client, cfg AggregatorConfig, logger *zap.Logger) (*AggregatorProvider, error) {
	if cfg.BaseURL == "" || cfg.VaultID == "" {
		return nil, errors.New("aggregator vault requires base url and vault id")
	}
	if cfg.APIKey == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "aggregator api key is not configured")
	}
	return &AggregatorProvider{
		http:      client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		vaultID:   cfg.VaultID,
		logger:    logger,
		deposits:  make(map[string]DepositResult),
		withdraws: make(map[string]WithdrawResult),
	}, nil
}

func (p *AggregatorProvider) Kind() domain.VaultProviderKind {
	return domain.VaultProviderAggregator
}

func (p *AggregatorProvider) Deposit(ctx context.Context, args DepositArgs) (DepositResult, error) {
	if err := args.validate(); err != nil {
		return DepositResult{}, err
	}

	p.mu.Lock()
	if prev, ok := p.deposits[args.IdempotencyKey]; ok {
		p.mu.Unlock()
		p.logger.Debug("aggregator deposit replayed from idempotency table",
			zap.String("key", args.IdempotencyKey))
		return prev, nil
	}
	p.mu.Unlock()

	body := map[string]any{
		"user_id":  args.UserID,
		"amount":   args.AmountBaseUnits.String(),
		"asset":    args.AssetSymbol,
		"metadata": args.Metadata,
	}

	var resp aggTxResponse
	url := fmt.Sprintf("%s/v1/vaults/%s/deposits", p.baseURL, p.vaultID)
	if err := p.http.PostJSON(ctx, url, body, p.headers(args.IdempotencyKey), &resp); err != nil {
		return DepositResult{}, p.unavailable("deposit", args.IdempotencyKey, err)
	}

	shares, err := parseUnits(resp.Shares)
	if err != nil {
		return DepositResult{}, errors.Wrap(err, "aggregator deposit shares")
	}

	res := DepositResult{ExternalID: resp.ExternalID, Shares: shares}
	p.mu.Lock()
	p.deposits[args.IdempotencyKey] = res
	p.mu.Unlock()
	return res, nil
}

func (p *AggregatorProvider) Withdraw(ctx context.Context, args WithdrawArgs) (WithdrawResult, error) {
	if err := args.validate(); err != nil {
		return WithdrawResult{}, err
	}

	p.mu.Lock()
	if prev, ok := p.withdraws[args.IdempotencyKey]; ok {
		p.mu.Unlock()
		return prev, nil
	}
	p.mu.Unlock()

	body := map[string]any{
		"user_id":  args.UserID,
		"shares":   args.Shares.String(),
		"metadata": args.Metadata,
	}

	var resp aggTxResponse
	url := fmt.Sprintf("%s/v1/vaults/%s/withdrawals", p.baseURL, p.vaultID)
	if err := p.http.PostJSON(ctx, url, body, p.headers(args.IdempotencyKey), &resp); err != nil {
		return WithdrawResult{}, p.unavailable("withdraw", args.IdempotencyKey, err)
	}

	redeemed, err := parseUnits(resp.Redeemed)
	if err != nil {
		return WithdrawResult{}, errors.Wrap(err, "aggregator redeemed amount")
	}

	res := WithdrawResult{ExternalID: resp.ExternalID, RedeemedBaseUnits: redeemed}
	p.mu.Lock()
	p.withdraws[args.IdempotencyKey] = res
	p.mu.Unlock()
	return res, nil
}

func (p *AggregatorProvider) Position(ctx context.Context, userID string) (*domain.Position, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	var resp aggPositionResponse
	url := fmt.Sprintf("%s/v1/vaults/%s/positions/%s", p.baseURL, p.vaultID, userID)
	if err := p.http.GetJSON(ctx, url, p.headers(""), &resp); err != nil {
		return nil, p.unavailable("position", userID, err)
	}

	shares, err := parseUnits(resp.Shares)
	if err != nil {
		return nil, errors.Wrap(err, "aggregator position shares")
	}
	principal, err := parseUnits(resp.PrincipalBaseUnits)
	if err != nil {
		return nil, errors.Wrap(err, "aggregator position principal")
	}

	updatedAt := time.Now()
	if resp.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.UpdatedAt); err == nil {
			updatedAt = ts
		}
	}

	vaultID := resp.VaultID
	if vaultID == "" {
		vaultID = p.vaultID
	}

	return &domain.Position{
		UserID:             userID,
		VaultID:            vaultID,
		Shares:             shares,
		PrincipalBaseUnits: principal,
		UpdatedAt:          updatedAt,
	}, nil
}

func (p *AggregatorProvider) TreasuryPosition(ctx context.Context) (*domain.Position, error) {
	return p.Position(ctx, TreasuryUserID)
}

func (p *AggregatorProvider) headers(idempotencyKey string) map[string]string {
	h := map[string]string{"X-API-Key": p.apiKey}
	if idempotencyKey != "" {
		h["Idempotency-Key"] = idempotencyKey
	}
	return h
}

func (p *AggregatorProvider) unavailable(op, ref string, err error) error {
	return errors.Wrapf(domain.ErrBackendUnavailable, "aggregator vault: %s (ref %s): %s", op, ref, err)
}

func parseUnits(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	return v, nil
}
