// Package executor turns rebalance decisions into signed on-chain
// transactions, serialized per signing key.
package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"bridge-sentinel/internal/chain"
	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
)

// Status tracks an order through its lifecycle.
type Status int

const (
	StatusBuilt Status = iota
	StatusSubmitted
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "built"
	}
}

// Order is one rebalance transfer sized to move a unit back toward the
// balanced band. Failed orders are reported, never retried in-cycle; the
// decision engine's dedup rule governs whether the next cycle re-fires.
type Order struct {
	Unit        string
	Direction   decision.Direction
	Amount      *big.Int
	Status      Status
	TxHash      common.Hash
	BlockNumber uint64
	Err         error
}

// Executor submits rebalance orders. Submissions sharing one signing key
// are strictly ordered around fetch-nonce/sign/submit; distinct keys
// proceed independently.
type Executor struct {
	thresholds ratio.Thresholds
	logger     zerolog.Logger

	mu       sync.Mutex
	keyLocks map[common.Address]*sync.Mutex
}

// New builds an executor.
func New(thresholds ratio.Thresholds, logger zerolog.Logger) *Executor {
	return &Executor{
		thresholds: thresholds,
		logger:     logger.With().Str("component", "rebalance_executor").Logger(),
		keyLocks:   make(map[common.Address]*sync.Mutex),
	}
}

func (e *Executor) lockFor(signer common.Address) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.keyLocks[signer]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[signer] = lock
	}
	return lock
}

// Rebalance builds, signs, submits, and confirms one order for a rebalance
// decision. The whole sequence holds the per-key exclusive section so the
// signing key's nonce ordering is never violated.
func (e *Executor) Rebalance(ctx context.Context, dec decision.Decision, unit registry.Unit, snap ratio.Snapshot, source, target chain.Backend, key *ecdsa.PrivateKey) Order {
	order := Order{
		Unit:      unit.Symbol,
		Direction: dec.Direction,
		Amount:    e.amountFor(dec, snap),
		Status:    StatusBuilt,
	}

	if key == nil {
		order.Status = StatusFailed
		order.Err = fmt.Errorf("%w: signing key not configured", chain.ErrSubmit)
		return order
	}

	signer := crypto.PubkeyToAddress(key.PublicKey)
	lock := e.lockFor(signer)
	lock.Lock()
	defer lock.Unlock()

	logger := e.logger.With().Str("unit", unit.Symbol).Str("direction", dec.Direction.String()).Logger()
	logger.Info().Str("amount", order.Amount.String()).Msg("rebalance order built")

	// A prior push that has not finalized on the far side leaves the two
	// cores disagreeing about their holdings; acting on that view would
	// double-move funds. Refuse until the nonces line up again.
	if err := e.verifyNonces(ctx, unit, source, target); err != nil {
		order.Status = StatusFailed
		order.Err = err
		logger.Warn().Err(err).Msg("rebalance refused")
		return order
	}

	var (
		hash    common.Hash
		backend chain.Backend
		err     error
	)
	switch dec.Direction {
	case decision.DirectionDeficit:
		backend = target
		hash, err = e.submitDeficit(ctx, unit, order.Amount, target, key)
	case decision.DirectionSurplus:
		backend = source
		hash, err = e.submitSurplus(ctx, unit, source, key)
	default:
		order.Status = StatusFailed
		order.Err = fmt.Errorf("%w: no direction on rebalance decision", chain.ErrSubmit)
		return order
	}

	if err != nil {
		order.Status = StatusFailed
		order.Err = err
		logger.Error().Err(err).Msg("rebalance submission failed")
		return order
	}

	order.Status = StatusSubmitted
	order.TxHash = hash
	logger.Info().Str("tx", hash.Hex()).Msg("rebalance order submitted")

	block, err := backend.WaitMined(ctx, hash)
	if err != nil {
		order.Status = StatusFailed
		order.Err = err
		logger.Error().Err(err).Str("tx", hash.Hex()).Msg("rebalance order failed")
		return order
	}

	order.Status = StatusConfirmed
	order.BlockNumber = block
	logger.Info().Str("tx", hash.Hex()).Uint64("block", block).Msg("rebalance order confirmed")

	e.sweep(ctx, unit, target, key, logger)
	return order
}

// verifyNonces cross-checks the bridge message nonces of both helpers. The
// pair matches only when every transfer sent from one side has been
// received on the other: source.inbound == target.outbound and
// source.outbound == target.inbound.
func (e *Executor) verifyNonces(ctx context.Context, unit registry.Unit, source, target chain.Backend) error {
	srcInbound, srcOutbound, err := source.ReadUintPair(ctx, unit.SourceHelper, "getNonces", unit.SourceCore)
	if err != nil {
		return fmt.Errorf("%w: source nonces: %s", chain.ErrSubmit, err)
	}
	tgtInbound, tgtOutbound, err := target.ReadUintPair(ctx, unit.TargetHelper, "getNonces", unit.TargetCore)
	if err != nil {
		return fmt.Errorf("%w: target nonces: %s", chain.ErrSubmit, err)
	}
	if srcInbound.Cmp(tgtOutbound) != 0 || srcOutbound.Cmp(tgtInbound) != 0 {
		return fmt.Errorf("%w: bridge transfers in flight (source nonces %s/%s, target nonces %s/%s)",
			chain.ErrSubmit, srcInbound, srcOutbound, tgtInbound, tgtOutbound)
	}
	return nil
}

// submitDeficit pulls funds back from the target side. The helper stages
// the deficit into redeem and claim steps that free locked funds, then a
// pushToSource carrying the quoted bridge fee as transaction value. Staged
// steps are confirmed in order before the push.
func (e *Executor) submitDeficit(ctx context.Context, unit registry.Unit, amount *big.Int, target chain.Backend, key *ecdsa.PrivateKey) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: deficit amount is zero", chain.ErrSubmit)
	}

	queue, err := target.ReadTransferQueue(ctx, unit.TargetHelper, unit.TargetCore, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: stage deficit: %s", chain.ErrSubmit, err)
	}

	var staged common.Hash
	if queue.RedeemAmount != nil && queue.RedeemAmount.Sign() > 0 {
		staged, err = e.executeConfirmed(ctx, target, key, unit.TargetCore, "redeem", queue.RedeemAmount)
		if err != nil {
			return common.Hash{}, err
		}
	}
	if len(queue.ClaimData) > 0 {
		staged, err = e.executeConfirmed(ctx, target, key, unit.TargetCore, "claim", queue.ClaimData)
		if err != nil {
			return common.Hash{}, err
		}
	}

	if queue.PushAmount == nil || queue.PushAmount.Sign() <= 0 {
		if staged != (common.Hash{}) {
			// Funds are still unwinding on the target side; the next
			// cycle pushes whatever the staged steps freed up.
			return staged, nil
		}
		return common.Hash{}, fmt.Errorf("%w: deficit not actionable, transfer queue empty", chain.ErrSubmit)
	}

	fee, err := target.ReadUint(ctx, unit.TargetHelper, "quotePushToSource", unit.TargetCore)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: quote pushToSource: %s", chain.ErrSubmit, err)
	}

	return target.Execute(ctx, key, unit.TargetCore, "pushToSource", fee, queue.PushAmount)
}

// executeConfirmed submits one call and blocks until it is mined. Used for
// the staged steps that must land before their successor is valid.
func (e *Executor) executeConfirmed(ctx context.Context, backend chain.Backend, key *ecdsa.PrivateKey, contract common.Address, method string, arg interface{}) (common.Hash, error) {
	hash, err := backend.Execute(ctx, key, contract, method, nil, arg)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := backend.WaitMined(ctx, hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// sweep collects whatever settled on the target side since the last pass:
// matured claims, and idle balance worth redepositing. Best effort; a
// failed sweep never degrades the confirmed order.
func (e *Executor) sweep(ctx context.Context, unit registry.Unit, target chain.Backend, key *ecdsa.PrivateKey, logger zerolog.Logger) {
	queue, err := target.ReadTransferQueue(ctx, unit.TargetHelper, unit.TargetCore, new(big.Int))
	if err != nil {
		logger.Warn().Err(err).Msg("post-rebalance sweep read failed")
		return
	}

	if len(queue.ClaimData) > 0 {
		if _, err := e.executeConfirmed(ctx, target, key, unit.TargetCore, "claim", queue.ClaimData); err != nil {
			logger.Warn().Err(err).Msg("sweep claim failed")
			return
		}
	}
	if queue.DepositAmount != nil && queue.DepositAmount.Cmp(ratio.BridgeDust) >= 0 {
		if _, err := e.executeConfirmed(ctx, target, key, unit.TargetCore, "deposit", queue.DepositAmount); err != nil {
			logger.Warn().Err(err).Msg("sweep deposit failed")
		}
	}
}

// submitSurplus pushes the excess from the source side; the core transfers
// its full surplus, so no amount argument exists on pushToTarget.
func (e *Executor) submitSurplus(ctx context.Context, unit registry.Unit, source chain.Backend, key *ecdsa.PrivateKey) (common.Hash, error) {
	fee, err := source.ReadUint(ctx, unit.SourceHelper, "quotePushToTarget", unit.SourceCore)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: quote pushToTarget: %s", chain.ErrSubmit, err)
	}

	return source.Execute(ctx, key, unit.SourceCore, "pushToTarget", fee)
}

func (e *Executor) amountFor(dec decision.Decision, snap ratio.Snapshot) *big.Int {
	switch dec.Direction {
	case decision.DirectionDeficit:
		return ratio.DeficitAmount(dec.RatioD3, e.thresholds, snap.Total())
	case decision.DirectionSurplus:
		overhang := dec.RatioD3 - e.thresholds.MaxSourceRatioD3
		if overhang <= 0 {
			return new(big.Int)
		}
		amount := new(big.Int).Mul(big.NewInt(overhang), snap.Total())
		return amount.Quo(amount, big.NewInt(1000))
	default:
		return new(big.Int)
	}
}
