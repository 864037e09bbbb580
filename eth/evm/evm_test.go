package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

func TestInputFromTransactionUsesDeclaredSender(t *testing.T) {
	signer := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	declared := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := &primitives.TransactionInput{
		Signer:   signer,
		Nonce:    4,
		Value:    uint256.NewInt(1),
		GasLimit: 21000,
	}

	input := InputFromTransaction(tx)
	if input.Caller != signer {
		t.Fatalf("caller without declared from = %s", input.Caller.Hex())
	}
	if input.Nonce == nil || *input.Nonce != 4 {
		t.Fatalf("nonce not carried: %v", input.Nonce)
	}
	if !input.PointInTime.IsPresent() {
		t.Fatalf("live transactions execute against the present state, got %s", input.PointInTime)
	}

	tx.From = &declared
	if input = InputFromTransaction(tx); input.Caller != declared {
		t.Fatalf("declared from not honored: %s", input.Caller.Hex())
	}
}

func TestInputFromCallDefaultsToZeroCaller(t *testing.T) {
	to := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	input := InputFromCall(&primitives.CallInput{To: to}, primitives.Past(3))
	if input.Caller != (common.Address{}) {
		t.Fatalf("caller = %s, want zero", input.Caller.Hex())
	}
	if input.Nonce != nil {
		t.Fatal("read-only calls take the nonce from state")
	}
	if block, ok := input.PointInTime.PastBlock(); !ok || block != 3 {
		t.Fatalf("point in time not carried: %s", input.PointInTime)
	}

	from := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	input = InputFromCall(&primitives.CallInput{From: &from, To: to}, primitives.Present())
	if input.Caller != from {
		t.Fatalf("explicit call sender not honored: %s", input.Caller.Hex())
	}
}
