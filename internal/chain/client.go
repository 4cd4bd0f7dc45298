package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	feeBumpNumerator   = 105
	feeBumpDenominator = 100
	receiptPollEvery   = 2 * time.Second
)

var (
	maxPriorityFeeWei      = big.NewInt(10_000_000_000) // 10 gwei
	fallbackPriorityFeeWei = big.NewInt(2_000_000_000)  // 2 gwei
)

// RetryOptions bound the read retry loop.
type RetryOptions struct {
	Attempts int
	Backoff  time.Duration
}

// Options parameterise a chain client. Timeout bounds each RPC call;
// ConfirmTimeout bounds the whole receipt wait after a broadcast.
type Options struct {
	ChainID        int64
	RPCURL         string
	Timeout        time.Duration
	ConfirmTimeout time.Duration
	Retry          RetryOptions
}

// Client talks to a single chain over JSON-RPC.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a chain client. The RPC connection is dialed lazily on
// first use so startup does not depend on every endpoint being reachable.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "chain_client").Int64("chain_id", opts.ChainID).Logger(),
	}
}

// ChainID reports the configured chain id.
func (c *Client) ChainID() int64 {
	return c.opts.ChainID
}

// ReadUint calls a view method returning a single uint256.
func (c *Client) ReadUint(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	outputs, err := c.call(ctx, contract, method, args...)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%w: %s: unexpected output count %d", ErrRead, method, len(outputs))
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s: output is not uint256", ErrRead, method)
	}
	return value, nil
}

// ReadUintPair calls a view method returning two uint256 values.
func (c *Client) ReadUintPair(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, *big.Int, error) {
	outputs, err := c.call(ctx, contract, method, args...)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 2 {
		return nil, nil, fmt.Errorf("%w: %s: unexpected output count %d", ErrRead, method, len(outputs))
	}
	first, okFirst := outputs[0].(*big.Int)
	second, okSecond := outputs[1].(*big.Int)
	if !okFirst || !okSecond {
		return nil, nil, fmt.Errorf("%w: %s: outputs are not uint256", ErrRead, method)
	}
	return first, second, nil
}

// ReadTransferQueue calls the helper's getAmounts view for a core and
// decodes its four-part answer.
func (c *Client) ReadTransferQueue(ctx context.Context, helper, core common.Address, deficit *big.Int) (TransferQueue, error) {
	if deficit == nil {
		deficit = new(big.Int)
	}
	outputs, err := c.call(ctx, helper, "getAmounts", core, deficit)
	if err != nil {
		return TransferQueue{}, err
	}
	if len(outputs) != 4 {
		return TransferQueue{}, fmt.Errorf("%w: getAmounts: unexpected output count %d", ErrRead, len(outputs))
	}
	push, okPush := outputs[0].(*big.Int)
	claim, okClaim := outputs[1].([]byte)
	redeem, okRedeem := outputs[2].(*big.Int)
	deposit, okDeposit := outputs[3].(*big.Int)
	if !okPush || !okClaim || !okRedeem || !okDeposit {
		return TransferQueue{}, fmt.Errorf("%w: getAmounts: unexpected output types", ErrRead)
	}
	return TransferQueue{
		PushAmount:    push,
		ClaimData:     claim,
		RedeemAmount:  redeem,
		DepositAmount: deposit,
	}, nil
}

func (c *Client) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var raw []byte
	err = c.withRetry(ctx, method, func(callCtx context.Context) error {
		client, dialErr := c.getClient(callCtx)
		if dialErr != nil {
			return dialErr
		}
		res, callErr := client.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
		if callErr != nil {
			return callErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	outputs, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %s", ErrRead, method, err)
	}
	return outputs, nil
}

// withRetry runs fn with a bounded timeout per attempt and exponential
// backoff between attempts. Exhaustion surfaces as a tagged ErrRead.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := c.opts.Retry.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.opts.Retry.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout())
		lastErr = fn(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}
		c.logger.Debug().Err(lastErr).Str("method", op).Int("attempt", attempt).Msg("chain read failed, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s (chain %d): %s", ErrRead, op, c.opts.ChainID, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s (chain %d): %s", ErrRead, op, c.opts.ChainID, lastErr)
}

func (c *Client) timeout() time.Duration {
	if c.opts.Timeout > 0 {
		return c.opts.Timeout
	}
	return 10 * time.Second
}

func (c *Client) confirmTimeout() time.Duration {
	if c.opts.ConfirmTimeout > 0 {
		return c.opts.ConfirmTimeout
	}
	return 5 * time.Minute
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Execute builds, signs, and broadcasts a contract call as a dynamic-fee
// transaction. The caller serializes invocations per signing key.
func (c *Client) Execute(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	if key == nil {
		return common.Hash{}, fmt.Errorf("%w: signing key not configured", ErrSubmit)
	}
	if value == nil {
		value = new(big.Int)
	}

	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack %s: %s", ErrSubmit, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrSubmit, err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	balance, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: fetch balance: %s", ErrSubmit, err)
	}
	if balance.Cmp(value) < 0 {
		return common.Hash{}, fmt.Errorf("%w: operator balance %s below required value %s", ErrSubmit, balance, value)
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: fetch head: %s", ErrSubmit, err)
	}
	baseFee := new(big.Int)
	if header.BaseFee != nil {
		baseFee.Mul(header.BaseFee, big.NewInt(feeBumpNumerator))
		baseFee.Div(baseFee, big.NewInt(feeBumpDenominator))
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = new(big.Int).Set(fallbackPriorityFeeWei)
	} else {
		tip = new(big.Int).Mul(tip, big.NewInt(3))
		if tip.Cmp(maxPriorityFeeWei) > 0 {
			tip = new(big.Int).Set(maxPriorityFeeWei)
		}
	}
	feeCap := new(big.Int).Add(baseFee, tip)

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Value: value, Data: payload})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas for %s: %s", ErrSubmit, method, err)
	}
	gas = gas * feeBumpNumerator / feeBumpDenominator

	required := new(big.Int).Mul(new(big.Int).SetUint64(gas), feeCap)
	required.Add(required, value)
	if balance.Cmp(required) < 0 {
		return common.Hash{}, fmt.Errorf("%w: operator balance %s below required %s for execution", ErrSubmit, balance, required)
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: fetch nonce: %s", ErrSubmit, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(c.opts.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Value:     value,
		Data:      payload,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(c.opts.ChainID)), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign %s: %s", ErrSubmit, method, err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: broadcast %s: %s", ErrSubmit, method, err)
	}

	c.logger.Info().Str("method", method).Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Msg("transaction sent")
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until the transaction lands, the
// confirmation bound elapses, or ctx expires. The bound keeps a stuck
// transaction from pinning its caller for the life of the process.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout())
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSubmit, err)
	}

	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt.BlockNumber.Uint64(), fmt.Errorf("%w: transaction %s reverted", ErrSubmit, hash.Hex())
			}
			return receipt.BlockNumber.Uint64(), nil
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: wait for %s: %s", ErrSubmit, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Backend = (*Client)(nil)
