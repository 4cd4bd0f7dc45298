// Package chain provides the capability boundary to one RPC endpoint:
// contract reads with bounded retry, and signed transaction submission.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRead tags transient read failures (network, RPC, timeout).
	// Callers must treat it as "unknown", never as a verdict.
	ErrRead = errors.New("chain: read failure")
	// ErrSubmit tags transaction submission failures (rejected, reverted, timed out).
	ErrSubmit = errors.New("chain: submit failure")
)

// Reader exposes contract view calls on one chain.
type Reader interface {
	ReadUint(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, error)
	ReadUintPair(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, *big.Int, error)
}

// TransferQueue mirrors the target helper's getAmounts view: the staged
// steps that free up and move a requested deficit. PushAmount is what can
// cross the bridge now; RedeemAmount and ClaimData unwind funds still held
// on the target side; DepositAmount is idle balance to put back to work.
type TransferQueue struct {
	PushAmount    *big.Int
	ClaimData     []byte
	RedeemAmount  *big.Int
	DepositAmount *big.Int
}

// Submitter executes a state-changing contract call end to end:
// balance precheck, fee estimation, nonce fetch, signing, and broadcast.
// Nonce ordering is the caller's responsibility; calls for the same key
// must not run concurrently.
type Submitter interface {
	Execute(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, method string, value *big.Int, args ...interface{}) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (uint64, error)
}

// Backend combines read and submit capabilities for one chain.
type Backend interface {
	Reader
	Submitter
	ReadTransferQueue(ctx context.Context, helper, core common.Address, deficit *big.Int) (TransferQueue, error)
	ChainID() int64
}
