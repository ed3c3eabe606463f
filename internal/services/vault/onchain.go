package vault

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/domain"
	"github.com/defybank/rails/pkg/retrier"
)

// Minimal surface of the vault contract (ERC-4626 style).
const vaultABIJSON = `[
	{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// OnChainConfig configures the on-chain vault backend.
type OnChainConfig struct {
	RPCURL          string
	ContractAddress string
	TreasuryAddress string
	PrivateKeyHex   string
	ChainID         int64
	CallTimeout     time.Duration
}

// OnChainProvider invokes the vault contract directly. Replay protection
// for the idempotency key is delegated to the underlying ledger: a
// resubmitted transaction with the same nonce cannot execute twice.
type OnChainProvider struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	treasury common.Address
	auth     *bind.TransactOpts
	timeout  time.Duration
	reads    *retrier.Retrier
	logger   *zap.Logger
}

// NewOnChainProvider dials the RPC endpoint and prepares the signing
// identity for the treasury key.
func NewOnChainProvider(ctx context.Context, cfg OnChainConfig, logger *zap.Logger) (*OnChainProvider, error) {
	if cfg.RPCURL == "" || cfg.ContractAddress == "" || cfg.TreasuryAddress == "" {
		return nil, errors.New("onchain vault requires rpc url, contract and treasury addresses")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "onchain signer key is not configured")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial vault rpc")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "parse onchain signer key")
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "resolve chain id")
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "build transactor")
	}

	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parse vault ABI")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &OnChainProvider{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
		treasury: common.HexToAddress(cfg.TreasuryAddress),
		auth:     auth,
		timeout:  timeout,
		reads: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(300*time.Millisecond),
		),
		logger: logger,
	}, nil
}

func (p *OnChainProvider) Kind() domain.VaultProviderKind {
	return domain.VaultProviderOnChain
}

// Deposit measures treasury shares before and after the deposit
// transaction and returns the minted delta, the tx hash serving as the
// external reference.
func (p *OnChainProvider) Deposit(ctx context.Context, args DepositArgs) (DepositResult, error) {
	if err := args.validate(); err != nil {
		return DepositResult{}, err
	}

	before, err := p.shares(ctx, p.treasury)
	if err != nil {
		return DepositResult{}, p.unavailable("read shares before deposit", args.IdempotencyKey, err)
	}

	tx, err := p.contract.Transact(p.auth, "deposit", args.AmountBaseUnits, p.treasury)
	if err != nil {
		return DepositResult{}, p.unavailable("submit deposit", args.IdempotencyKey, err)
	}

	receipt, err := p.waitMined(ctx, tx)
	if err != nil {
		return DepositResult{}, p.unavailable("await deposit receipt", args.IdempotencyKey, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return DepositResult{}, errors.Wrapf(domain.ErrBackendUnavailable,
			"deposit tx %s reverted (idempotency key %s)", tx.Hash().Hex(), args.IdempotencyKey)
	}

	after, err := p.shares(ctx, p.treasury)
	if err != nil {
		return DepositResult{}, p.unavailable("read shares after deposit", args.IdempotencyKey, err)
	}

	minted := new(big.Int).Sub(after, before)
	if minted.Sign() < 0 {
		minted.SetInt64(0)
	}

	p.logger.Info("vault deposit mined",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("user", args.UserID),
		zap.String("shares", minted.String()))

	return DepositResult{ExternalID: tx.Hash().Hex(), Shares: minted}, nil
}

// Withdraw burns shares via redeem and returns the redeemed base units as
// the delta of the treasury's underlying balance.
func (p *OnChainProvider) Withdraw(ctx context.Context, args WithdrawArgs) (WithdrawResult, error) {
	if err := args.validate(); err != nil {
		return WithdrawResult{}, err
	}

	before, err := p.principal(ctx, p.treasury)
	if err != nil {
		return WithdrawResult{}, p.unavailable("read principal before withdraw", args.IdempotencyKey, err)
	}

	tx, err := p.contract.Transact(p.auth, "redeem", args.Shares, p.treasury, p.treasury)
	if err != nil {
		return WithdrawResult{}, p.unavailable("submit redeem", args.IdempotencyKey, err)
	}

	receipt, err := p.waitMined(ctx, tx)
	if err != nil {
		return WithdrawResult{}, p.unavailable("await redeem receipt", args.IdempotencyKey, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return WithdrawResult{}, errors.Wrapf(domain.ErrBackendUnavailable,
			"redeem tx %s reverted (idempotency key %s)", tx.Hash().Hex(), args.IdempotencyKey)
	}

	after, err := p.principal(ctx, p.treasury)
	if err != nil {
		return WithdrawResult{}, p.unavailable("read principal after withdraw", args.IdempotencyKey, err)
	}

	redeemed := new(big.Int).Sub(before, after)
	if redeemed.Sign() < 0 {
		redeemed.SetInt64(0)
	}

	return WithdrawResult{ExternalID: tx.Hash().Hex(), RedeemedBaseUnits: redeemed}, nil
}

// Position reports the treasury-held reference position attributed to the
// user; per-user sub-ledger accounting lives above this layer.
func (p *OnChainProvider) Position(ctx context.Context, userID string) (*domain.Position, error) {
	shares, err := p.shares(ctx, p.treasury)
	if err != nil {
		return nil, p.unavailable("read position shares", userID, err)
	}
	principal, err := p.assetsFor(ctx, shares)
	if err != nil {
		return nil, p.unavailable("read position principal", userID, err)
	}
	return &domain.Position{
		UserID:             userID,
		VaultID:            p.address.Hex(),
		Shares:             shares,
		PrincipalBaseUnits: principal,
		UpdatedAt:          time.Now(),
	}, nil
}

func (p *OnChainProvider) TreasuryPosition(ctx context.Context) (*domain.Position, error) {
	return p.Position(ctx, TreasuryUserID)
}

func (p *OnChainProvider) shares(ctx context.Context, owner common.Address) (*big.Int, error) {
	return p.read(ctx, "balanceOf", owner)
}

func (p *OnChainProvider) assetsFor(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return p.read(ctx, "convertToAssets", shares)
}

func (p *OnChainProvider) read(ctx context.Context, method string, arg any) (*big.Int, error) {
	return retrier.DoWithData(p.reads, ctx, func(ctx context.Context) (*big.Int, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		var out []any
		if err := p.contract.Call(&bind.CallOpts{Context: callCtx}, &out, method, arg); err != nil {
			return nil, classifyCallErr(err)
		}
		v, err := callResultInt(out)
		if err != nil {
			return nil, retrier.Permanent(err)
		}
		return v, nil
	})
}

// classifyCallErr marks errors the node will keep returning as permanent
// so the read retrier does not waste its budget on them. Transport and
// timeout errors stay retryable.
func classifyCallErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "abi:") {
		return retrier.Permanent(err)
	}
	return err
}

func (p *OnChainProvider) principal(ctx context.Context, owner common.Address) (*big.Int, error) {
	shares, err := p.shares(ctx, owner)
	if err != nil {
		return nil, err
	}
	return p.assetsFor(ctx, shares)
}

func (p *OnChainProvider) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return bind.WaitMined(waitCtx, p.client, tx)
}

func (p *OnChainProvider) unavailable(op, ref string, err error) error {
	return errors.Wrapf(domain.ErrBackendUnavailable, "onchain vault: %s (ref %s): %s", op, ref, err)
}

func callResultInt(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, errors.New("empty contract call result")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected contract call result type %T", out[0])
	}
	return v, nil
}
