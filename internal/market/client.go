package market

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"scaledTotalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const poolABI = `[
  {"type":"function","name":"supply","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getReserveData","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[
    {"name":"configuration","type":"tuple","components":[{"name":"data","type":"uint256"}]},
    {"name":"liquidityIndex","type":"uint128"},
    {"name":"currentLiquidityRate","type":"uint128"},
    {"name":"variableBorrowIndex","type":"uint128"},
    {"name":"currentVariableBorrowRate","type":"uint128"},
    {"name":"currentStableBorrowRate","type":"uint128"},
    {"name":"lastUpdateTimestamp","type":"uint40"},
    {"name":"id","type":"uint16"},
    {"name":"aTokenAddress","type":"address"},
    {"name":"stableDebtTokenAddress","type":"address"},
    {"name":"variableDebtTokenAddress","type":"address"},
    {"name":"interestRateStrategyAddress","type":"address"},
    {"name":"accruedToTreasury","type":"uint128"},
    {"name":"unbacked","type":"uint128"},
    {"name":"isolationModeTotalDebt","type":"uint128"}
  ]}]}
]`

const rewardsABI = `[
  {"type":"function","name":"claimAllRewards","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"address[]"},{"name":"to","type":"address"}],"outputs":[{"name":"rewardsList","type":"address[]"},{"name":"claimedAmounts","type":"uint256[]"}]}
]`

// rawReserveData mirrors the pool's reserve tuple layout for ABI unpacking.
type rawReserveData struct {
	Configuration struct {
		Data *big.Int
	}
	LiquidityIndex              *big.Int
	CurrentLiquidityRate        *big.Int
	VariableBorrowIndex         *big.Int
	CurrentVariableBorrowRate   *big.Int
	CurrentStableBorrowRate     *big.Int
	LastUpdateTimestamp         *big.Int
	Id                          uint16
	ATokenAddress               common.Address
	StableDebtTokenAddress      common.Address
	VariableDebtTokenAddress    common.Address
	InterestRateStrategyAddress common.Address
	AccruedToTreasury           *big.Int
	Unbacked                    *big.Int
	IsolationModeTotalDebt      *big.Int
}

// Client wraps go-ethereum access to the pool, its tokens and the rewards
// controller. All transactions are signed with the vault operator key.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address

	erc20Meta   abi.ABI
	poolMeta    abi.ABI
	rewardsMeta abi.ABI
}

// Dial connects to the RPC endpoint and parses the contract metadata.
func Dial(rpcURL, operatorKeyHex string, chainID int64) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	erc20Meta, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	poolMeta, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	rewardsMeta, err := abi.JSON(strings.NewReader(rewardsABI))
	if err != nil {
		return nil, fmt.Errorf("parse rewards abi: %w", err)
	}

	return &Client{
		eth:         eth,
		chainID:     big.NewInt(chainID),
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		erc20Meta:   erc20Meta,
		poolMeta:    poolMeta,
		rewardsMeta: rewardsMeta,
	}, nil
}

// Operator returns the transaction sender address.
func (c *Client) Operator() common.Address { return c.from }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// transact submits a state-changing call and waits for a successful receipt.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s tx: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%s tx reverted: %s", method, tx.Hash().Hex())
	}
	return nil
}

// ERC20 binds a plain token at addr.
func (c *Client) ERC20(addr common.Address) ERC20 {
	return &boundToken{
		client:   c,
		contract: bind.NewBoundContract(addr, c.erc20Meta, c.eth, c.eth, c.eth),
	}
}

// Wrapped binds the pool's interest-bearing token at addr.
func (c *Client) Wrapped(addr common.Address) WrappedAsset {
	return &boundToken{
		client:   c,
		contract: bind.NewBoundContract(addr, c.erc20Meta, c.eth, c.eth, c.eth),
	}
}

// Pool binds the lending pool at addr.
func (c *Client) Pool(addr common.Address) Pool {
	return &boundPool{
		client:   c,
		contract: bind.NewBoundContract(addr, c.poolMeta, c.eth, c.eth, c.eth),
	}
}

// Rewards binds the rewards controller at addr.
func (c *Client) Rewards(addr common.Address) RewardsController {
	return &boundRewards{
		client:   c,
		contract: bind.NewBoundContract(addr, c.rewardsMeta, c.eth, c.eth, c.eth),
	}
}

type boundToken struct {
	client   *Client
	contract *bind.BoundContract
}

func (t *boundToken) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := t.contract.Call(opts, &out, "balanceOf", holder); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (t *boundToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return t.client.transact(ctx, t.contract, "transfer", to, amount)
}

func (t *boundToken) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return t.client.transact(ctx, t.contract, "transferFrom", from, to, amount)
}

func (t *boundToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) error {
	return t.client.transact(ctx, t.contract, "approve", spender, amount)
}

func (t *boundToken) ScaledTotalSupply(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := t.contract.Call(opts, &out, "scaledTotalSupply"); err != nil {
		return nil, fmt.Errorf("scaledTotalSupply: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

type boundPool struct {
	client   *Client
	contract *bind.BoundContract
}

func (p *boundPool) Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error {
	return p.client.transact(ctx, p.contract, "supply", asset, amount, onBehalfOf, referralCode)
}

func (p *boundPool) Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	// the pool returns the withdrawn amount but receipts don't carry return
	// values; callers treat a mined tx as amount withdrawn
	if err := p.client.transact(ctx, p.contract, "withdraw", asset, amount, to); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (p *boundPool) GetReserveData(ctx context.Context, asset common.Address) (*ReserveData, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := p.contract.Call(opts, &out, "getReserveData", asset); err != nil {
		return nil, fmt.Errorf("getReserveData: %w", err)
	}
	raw := *abi.ConvertType(out[0], new(rawReserveData)).(*rawReserveData)
	return &ReserveData{
		Configuration:     raw.Configuration.Data,
		LiquidityIndex:    raw.LiquidityIndex,
		AccruedToTreasury: raw.AccruedToTreasury,
		WrappedAsset:      raw.ATokenAddress,
	}, nil
}

type boundRewards struct {
	client   *Client
	contract *bind.BoundContract
}

func (r *boundRewards) ClaimAllRewards(ctx context.Context, assets []common.Address, to common.Address) ([]common.Address, []*big.Int, error) {
	opts, err := r.client.transactOpts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("build tx opts: %w", err)
	}
	tx, err := r.contract.Transact(opts, "claimAllRewards", assets, to)
	if err != nil {
		return nil, nil, fmt.Errorf("claimAllRewards tx: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, r.client.eth, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return nil, nil, fmt.Errorf("claimAllRewards tx reverted: %s", tx.Hash().Hex())
	}
	// claimed breakdown is only observable via events; report the tx as done
	return nil, nil, nil
}
