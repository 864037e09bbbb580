package primitives

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSenderPrefersDeclaredFrom(t *testing.T) {
	signer := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	declared := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := &TransactionInput{Signer: signer}
	if tx.Sender() != signer {
		t.Fatalf("sender without declared from = %s", tx.Sender().Hex())
	}

	tx.From = &declared
	if tx.Sender() != declared {
		t.Fatalf("declared from not honored: %s", tx.Sender().Hex())
	}
}

func TestTransactionInputFromExternal(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	chainID := big.NewInt(2008)
	to := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	tx := types.MustSignNewTx(key, types.LatestSignerForChainID(chainID), &types.LegacyTx{
		Nonce:    3,
		To:       &to,
		Value:    big.NewInt(7),
		Gas:      21000,
		GasPrice: big.NewInt(2),
		Data:     []byte{0x01},
	})

	input, err := TransactionInputFromExternal(tx, chainID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if input.Signer != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("signer not recovered: %s", input.Signer.Hex())
	}
	if input.From != nil {
		t.Fatalf("external transactions carry no declared sender, got %s", input.From.Hex())
	}
	if input.Sender() != input.Signer {
		t.Fatal("sender must fall back to the recovered signer")
	}
	if input.Hash != tx.Hash() || input.Nonce != 3 || *input.To != to {
		t.Fatalf("fields not converted: %+v", input)
	}
	if input.Value.Uint64() != 7 || input.GasPrice.Uint64() != 2 || input.GasLimit != 21000 {
		t.Fatalf("numeric fields not converted: %+v", input)
	}
}
