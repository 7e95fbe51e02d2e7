package core

// Work oracle settlement: once per epoch the aggregate work score is
// submitted to the reward oracle contract, then counters reset and the
// epoch is flagged. The sequence is fixed: advance, submit, reset, flag —
// resetting before the submission would report an empty epoch.

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sirupsen/logrus"
)

// Oracle contract call selectors (first four bytes of the keccak'd
// signature), mirroring the reward oracle ABI.
var (
	selectorSubmitWork   = [4]byte{0x5b, 0x8e, 0x23, 0x1a}
	selectorClaimRewards = [4]byte{0x37, 0x2c, 0x12, 0xb1}
	selectorStake        = [4]byte{0xa6, 0x94, 0xfc, 0x3a}
)

// WorkOracle drives epoch settlement against the external ledger.
type WorkOracle struct {
	client    *LedgerClient
	collector *WorkMetricsCollector
	storage   *NodeStorage
	signer    *secp256k1.PrivateKey
	contract  string
}

// NewWorkOracle wires the settlement path.
func NewWorkOracle(client *LedgerClient, collector *WorkMetricsCollector, storage *NodeStorage, signer *secp256k1.PrivateKey, contract string) *WorkOracle {
	return &WorkOracle{
		client:    client,
		collector: collector,
		storage:   storage,
		signer:    signer,
		contract:  contract,
	}
}

// encodeCall packs a selector with 32-byte-padded arguments.
func encodeCall(selector [4]byte, args ...[]byte) string {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector[:]...)
	for _, arg := range args {
		var word [32]byte
		copy(word[32-len(arg):], arg)
		data = append(data, word[:]...)
	}
	return "0x" + hex.EncodeToString(data)
}

func uintWord(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// signAndSend signs the call payload and submits it as a raw transaction.
func (o *WorkOracle) signAndSend(ctx context.Context, callData string) (string, error) {
	nonce, err := o.client.GetNonce(ctx, DeriveEthAddress(o.signer.PubKey()).Hex())
	if err != nil {
		return "", err
	}
	gasPrice, err := o.client.GasPrice(ctx)
	if err != nil {
		return "", err
	}
	gas, err := o.client.EstimateGas(ctx, CallObject{
		From: DeriveEthAddress(o.signer.PubKey()).Hex(),
		To:   o.contract,
		Data: callData,
	})
	if err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%s|%s|%s|%s|%s", nonce, gasPrice, gas, o.contract, callData)
	digest := Keccak256([]byte(payload))
	sig := SignSecp(o.signer, digest)

	raw := "0x" + hex.EncodeToString(append([]byte(payload), sig...))
	return o.client.SendRawTransaction(ctx, raw)
}

// SettleEpoch performs the full settlement sequence for the current epoch.
// Safe to call repeatedly; an already-submitted epoch is a no-op.
func (o *WorkOracle) SettleEpoch(ctx context.Context) error {
	o.collector.CheckEpochAdvance()
	if o.collector.IsEpochSubmitted() {
		return nil
	}

	epoch := o.collector.CurrentEpoch()
	snapshot := o.collector.Snapshot()
	score := snapshot.TotalWorkScore

	scoreScaled := uint64(score * 100)
	txHash, err := o.signAndSend(ctx, encodeCall(selectorSubmitWork,
		uintWord(epoch), uintWord(scoreScaled)))
	if err != nil {
		return fmt.Errorf("submit work epoch %d: %w", epoch, err)
	}

	summary := &StoredEpochSummary{
		Epoch:          epoch,
		TotalWorkScore: score,
		BytesRelayed:   snapshot.TrafficRelay.BytesRelayed,
		ZkOps:          snapshot.ZkProofs.ProofsGenerated + snapshot.ZkProofs.ProofsVerified,
		MixerOps:       snapshot.MixerOps.DepositsProcessed + snapshot.MixerOps.SpendsProcessed,
		Submitted:      true,
		SubmittedTx:    txHash,
	}
	if err := o.storage.StoreEpoch(epoch, summary); err != nil {
		logrus.Warnf("epoch summary persist failed: %v", err)
	}

	o.collector.ResetWorkMetrics()
	o.collector.MarkEpochSubmitted()
	logrus.Infof("epoch %d settled: score=%.2f tx=%s", epoch, score, txHash)
	return nil
}

// ClaimRewards claims the reward for a settled epoch.
func (o *WorkOracle) ClaimRewards(ctx context.Context, epoch uint64) (*StoredClaim, error) {
	txHash, err := o.signAndSend(ctx, encodeCall(selectorClaimRewards, uintWord(epoch)))
	if err != nil {
		return nil, fmt.Errorf("claim epoch %d: %w", epoch, err)
	}

	summary, err := o.storage.LoadEpoch(epoch)
	amount := "0"
	if err == nil && summary != nil {
		amount = fmt.Sprintf("%.2f", summary.TotalWorkScore)
	}

	claim := &StoredClaim{
		Epoch:     epoch,
		Amount:    amount,
		TxHash:    txHash,
		ClaimedAt: time.Now().Unix(),
	}
	if err := o.storage.StoreClaim(epoch, claim); err != nil {
		logrus.Warnf("claim persist failed: %v", err)
	}
	return claim, nil
}

// Stake locks NOX with the staking contract. The amount is denominated in
// whole NOX and converted to base units (1e18).
func (o *WorkOracle) Stake(ctx context.Context, amount float64) (string, error) {
	if amount <= 0 {
		return "", wrapErr(ErrInvalidAddress, "stake amount must be positive")
	}
	base := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	units, _ := base.Int(nil)
	return o.signAndSend(ctx, encodeCall(selectorStake, units.Bytes()))
}

// PendingRewards sums claims not yet settled on the ledger side.
func (o *WorkOracle) PendingRewards(ctx context.Context) (string, error) {
	return o.client.Call(ctx, CallObject{
		From: DeriveEthAddress(o.signer.PubKey()).Hex(),
		To:   o.contract,
		Data: encodeCall(selectorClaimRewards, uintWord(o.collector.CurrentEpoch())),
	})
}
