package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"bridge-sentinel/internal/chain"
	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
)

type executeCall struct {
	contract common.Address
	method   string
	value    *big.Int
	args     []interface{}
}

type fakeBackend struct {
	mu         sync.Mutex
	quotes     map[string]*big.Int
	nonces     [2]*big.Int
	queue      *chain.TransferQueue
	sweepQueue chain.TransferQueue
	queueErr   error
	executes   []executeCall
	execErr    error
	minedErr   error
	block      uint64
	inFlight   int32
	maxSeen    int32
	execDelay  time.Duration
}

func (f *fakeBackend) ReadUint(_ context.Context, _ common.Address, method string, _ ...interface{}) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote, ok := f.quotes[method]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected method %s", chain.ErrRead, method)
	}
	return quote, nil
}

func (f *fakeBackend) ReadUintPair(_ context.Context, _ common.Address, method string, _ ...interface{}) (*big.Int, *big.Int, error) {
	if method != "getNonces" {
		return nil, nil, fmt.Errorf("%w: unexpected method %s", chain.ErrRead, method)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nonces[0] == nil {
		return big.NewInt(0), big.NewInt(0), nil
	}
	return f.nonces[0], f.nonces[1], nil
}

// ReadTransferQueue answers the staging read: a zero deficit is the
// post-confirmation sweep, a positive one the deficit split. Unconfigured
// backends stage the whole deficit as a single push.
func (f *fakeBackend) ReadTransferQueue(_ context.Context, _, _ common.Address, deficit *big.Int) (chain.TransferQueue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return chain.TransferQueue{}, f.queueErr
	}
	if deficit == nil || deficit.Sign() == 0 {
		return f.sweepQueue, nil
	}
	if f.queue != nil {
		return *f.queue, nil
	}
	return chain.TransferQueue{PushAmount: new(big.Int).Set(deficit)}, nil
}

func (f *fakeBackend) Execute(_ context.Context, _ *ecdsa.PrivateKey, contract common.Address, method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, current) {
			break
		}
	}
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return common.Hash{}, f.execErr
	}
	f.executes = append(f.executes, executeCall{contract: contract, method: method, value: value, args: args})
	return common.HexToHash("0xabc"), nil
}

func (f *fakeBackend) WaitMined(context.Context, common.Hash) (uint64, error) {
	if f.minedErr != nil {
		return 0, f.minedErr
	}
	return f.block, nil
}

func (f *fakeBackend) ChainID() int64 { return 1 }

func testThresholds() ratio.Thresholds {
	return ratio.Thresholds{SourceRatioD3: 50, MaxSourceRatioD3: 100}
}

func testUnit() registry.Unit {
	return registry.Unit{
		Symbol:       "WETH",
		SourceCore:   common.HexToAddress("0x01"),
		TargetCore:   common.HexToAddress("0x02"),
		SourceHelper: common.HexToAddress("0x03"),
		TargetHelper: common.HexToAddress("0x04"),
	}
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func deficitSnapshot() ratio.Snapshot {
	total := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return ratio.Snapshot{
		SourceValue: new(big.Int).Quo(total, big.NewInt(25)),
		TargetValue: new(big.Int).Sub(total, new(big.Int).Quo(total, big.NewInt(25))),
		RatioD3:     40,
	}
}

func TestRebalanceDeficitFlow(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	fee := big.NewInt(777)
	target := &fakeBackend{quotes: map[string]*big.Int{"quotePushToSource": fee}, block: 120}
	source := &fakeBackend{}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), source, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", order.Status, order.Err)
	}
	if order.BlockNumber != 120 {
		t.Fatalf("unexpected block %d", order.BlockNumber)
	}
	if len(target.executes) != 1 {
		t.Fatalf("expected one target execution, got %d", len(target.executes))
	}

	call := target.executes[0]
	if call.contract != unit.TargetCore {
		t.Fatalf("deficit must execute against target core, got %s", call.contract.Hex())
	}
	if call.method != "pushToSource" {
		t.Fatalf("unexpected method %s", call.method)
	}
	if call.value.Cmp(fee) != 0 {
		t.Fatalf("quoted fee must ride as tx value, got %s", call.value)
	}
	if len(call.args) != 1 {
		t.Fatalf("pushToSource takes the amount argument, got %v", call.args)
	}
	amount, ok := call.args[0].(*big.Int)
	if !ok || amount.Sign() <= 0 {
		t.Fatalf("amount argument must be a positive big.Int, got %v", call.args[0])
	}
	if len(source.executes) != 0 {
		t.Fatal("deficit must not touch the source chain")
	}
}

func TestRebalanceSurplusFlow(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	fee := big.NewInt(555)
	source := &fakeBackend{quotes: map[string]*big.Int{"quotePushToTarget": fee}, block: 7}
	target := &fakeBackend{}

	snap := ratio.Snapshot{SourceValue: big.NewInt(150), TargetValue: big.NewInt(850), RatioD3: 150}
	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionSurplus, RatioD3: 150}
	order := exec.Rebalance(context.Background(), dec, unit, snap, source, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", order.Status, order.Err)
	}
	if len(source.executes) != 1 {
		t.Fatalf("expected one source execution, got %d", len(source.executes))
	}

	call := source.executes[0]
	if call.contract != unit.SourceCore {
		t.Fatalf("surplus must execute against source core, got %s", call.contract.Hex())
	}
	if call.method != "pushToTarget" {
		t.Fatalf("unexpected method %s", call.method)
	}
	if call.value.Cmp(fee) != 0 {
		t.Fatalf("quoted fee must ride as tx value, got %s", call.value)
	}
	if len(call.args) != 0 {
		t.Fatalf("pushToTarget takes no arguments, got %v", call.args)
	}
}

func TestRebalanceWaitMinedFailure(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	target := &fakeBackend{
		quotes:   map[string]*big.Int{"quotePushToSource": big.NewInt(1)},
		minedErr: fmt.Errorf("%w: reverted", chain.ErrSubmit),
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", order.Status)
	}
	if order.Err == nil {
		t.Fatal("failed order must carry its error")
	}
	if order.TxHash == (common.Hash{}) {
		t.Fatal("submitted hash should survive the failure")
	}
}

func TestRebalanceMissingKeyFails(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, testUnit(), deficitSnapshot(), &fakeBackend{}, &fakeBackend{}, nil)

	if order.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", order.Status)
	}
}

func TestSameKeySubmissionsSerialize(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()
	key := testKey(t)

	target := &fakeBackend{
		quotes:    map[string]*big.Int{"quotePushToSource": big.NewInt(1)},
		execDelay: 20 * time.Millisecond,
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, key)
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&target.maxSeen); max != 1 {
		t.Fatalf("same-key submissions must never overlap, saw %d in flight", max)
	}
	if len(target.executes) != 4 {
		t.Fatalf("all submissions should complete, got %d", len(target.executes))
	}
}

func TestDistinctKeysGetDistinctLocks(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())

	keyA := crypto.PubkeyToAddress(testKey(t).PublicKey)
	keyB := crypto.PubkeyToAddress(testKey(t).PublicKey)

	if exec.lockFor(keyA) != exec.lockFor(keyA) {
		t.Fatal("the same signer must map to one lock")
	}
	if exec.lockFor(keyA) == exec.lockFor(keyB) {
		t.Fatal("distinct signers must not share a lock")
	}
}

func TestAmountForSurplusOverhang(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())

	snap := ratio.Snapshot{SourceValue: big.NewInt(200), TargetValue: big.NewInt(800), RatioD3: 200}
	dec := decision.Decision{Direction: decision.DirectionSurplus, RatioD3: 200}

	// (200-100)*1000/1000 = 100
	amount := exec.amountFor(dec, snap)
	if amount.Int64() != 100 {
		t.Fatalf("expected overhang 100, got %s", amount)
	}
}

func TestRebalanceRefusedWhileTransfersInFlight(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	// source outbound 5 has not arrived as target inbound yet.
	source := &fakeBackend{nonces: [2]*big.Int{big.NewInt(3), big.NewInt(5)}}
	target := &fakeBackend{
		nonces: [2]*big.Int{big.NewInt(4), big.NewInt(3)},
		quotes: map[string]*big.Int{"quotePushToSource": big.NewInt(1)},
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), source, target, testKey(t))

	if order.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", order.Status)
	}
	if !errors.Is(order.Err, chain.ErrSubmit) {
		t.Fatalf("refusal must be tagged chain.ErrSubmit, got %v", order.Err)
	}
	if len(target.executes) != 0 || len(source.executes) != 0 {
		t.Fatal("no transaction may be submitted while transfers are in flight")
	}
}

func TestRebalanceDeficitStagesRedeemAndClaimBeforePush(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	claimData := []byte{0xde, 0xad}
	target := &fakeBackend{
		quotes: map[string]*big.Int{"quotePushToSource": big.NewInt(9)},
		queue: &chain.TransferQueue{
			PushAmount:   big.NewInt(1_000),
			ClaimData:    claimData,
			RedeemAmount: big.NewInt(500),
		},
		block: 33,
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", order.Status, order.Err)
	}
	if len(target.executes) != 3 {
		t.Fatalf("expected redeem, claim, pushToSource, got %d calls", len(target.executes))
	}
	if target.executes[0].method != "redeem" {
		t.Fatalf("redeem must run first, got %s", target.executes[0].method)
	}
	if got := target.executes[0].args[0].(*big.Int); got.Int64() != 500 {
		t.Fatalf("unexpected redeem amount %s", got)
	}
	if target.executes[1].method != "claim" {
		t.Fatalf("claim must run second, got %s", target.executes[1].method)
	}
	if target.executes[2].method != "pushToSource" {
		t.Fatalf("pushToSource must run last, got %s", target.executes[2].method)
	}
	if got := target.executes[2].args[0].(*big.Int); got.Int64() != 1_000 {
		t.Fatalf("push must carry the staged amount, got %s", got)
	}
	if target.executes[2].value.Int64() != 9 {
		t.Fatalf("push must carry the quoted fee as value, got %s", target.executes[2].value)
	}
}

func TestRebalanceDeficitStagedOnlyStillConfirms(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	// Everything is locked in the redemption queue; nothing pushable yet.
	target := &fakeBackend{
		queue: &chain.TransferQueue{RedeemAmount: big.NewInt(700)},
		block: 5,
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("staged-only deficit should confirm on the redeem, got %s (%v)", order.Status, order.Err)
	}
	if len(target.executes) != 1 || target.executes[0].method != "redeem" {
		t.Fatalf("expected only the redeem, got %v", target.executes)
	}
}

func TestRebalanceDeficitEmptyQueueFails(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	target := &fakeBackend{queue: &chain.TransferQueue{}}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusFailed {
		t.Fatalf("empty transfer queue must fail the order, got %s", order.Status)
	}
	if !errors.Is(order.Err, chain.ErrSubmit) {
		t.Fatalf("expected chain.ErrSubmit, got %v", order.Err)
	}
}

func TestRebalanceSweepCollectsClaimAndDeposit(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	dust := new(big.Int).Set(ratio.BridgeDust)
	target := &fakeBackend{
		quotes: map[string]*big.Int{"quotePushToSource": big.NewInt(1)},
		sweepQueue: chain.TransferQueue{
			ClaimData:     []byte{0x01},
			DepositAmount: new(big.Int).Mul(dust, big.NewInt(2)),
		},
		block: 11,
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", order.Status, order.Err)
	}
	if len(target.executes) != 3 {
		t.Fatalf("expected push, claim, deposit, got %d calls", len(target.executes))
	}
	if target.executes[1].method != "claim" || target.executes[2].method != "deposit" {
		t.Fatalf("sweep must claim then deposit, got %s/%s", target.executes[1].method, target.executes[2].method)
	}
}

func TestRebalanceSweepSkipsDustDeposit(t *testing.T) {
	exec := New(testThresholds(), zerolog.Nop())
	unit := testUnit()

	target := &fakeBackend{
		quotes: map[string]*big.Int{"quotePushToSource": big.NewInt(1)},
		sweepQueue: chain.TransferQueue{
			DepositAmount: new(big.Int).Sub(ratio.BridgeDust, big.NewInt(1)),
		},
	}

	dec := decision.Decision{Unit: "WETH", Kind: decision.KindRebalance, Direction: decision.DirectionDeficit, RatioD3: 40}
	order := exec.Rebalance(context.Background(), dec, unit, deficitSnapshot(), &fakeBackend{}, target, testKey(t))

	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", order.Status, order.Err)
	}
	if len(target.executes) != 1 {
		t.Fatalf("a sub-dust deposit must be skipped, got %d calls", len(target.executes))
	}
}
