// stratus boots a single-node execution engine backed by in-memory storage
// and the go-ethereum interpreter.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/maxcabrajac/stratus/eth"
	"github.com/maxcabrajac/stratus/eth/evm"
	"github.com/maxcabrajac/stratus/eth/miner"
	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

var (
	evmsFlag = &cli.IntFlag{
		Name:  "evms",
		Usage: "Number of EVM workers",
		Value: 4,
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "Chain id reported to contracts and used for signature recovery",
		Value: 2008,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	mineIntervalFlag = &cli.DurationFlag{
		Name:  "mine-interval",
		Usage: "Mine an empty block on every tick of this interval (0 disables)",
	}
	testAccountsFlag = &cli.BoolFlag{
		Name:  "test-accounts",
		Usage: "Fund the well-known development accounts at genesis",
	}
)

func main() {
	app := &cli.App{
		Name:  "stratus",
		Usage: "single-node Ethereum-compatible execution engine",
		Flags: []cli.Flag{
			evmsFlag,
			chainIDFlag,
			verbosityFlag,
			mineIntervalFlag,
			testAccountsFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(c.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))

	store := storage.NewStratusStorage(
		storage.NewInMemoryTemporaryStorage(),
		storage.NewInMemoryPermanentStorage(),
	)
	if err := store.EnableGenesis(primitives.GenesisBlock()); err != nil {
		return err
	}
	if c.Bool(testAccountsFlag.Name) {
		if err := store.SaveAccounts(testAccounts()); err != nil {
			return err
		}
	}

	chainID := new(big.Int).SetUint64(c.Uint64(chainIDFlag.Name))
	evms := make([]evm.Evm, c.Int(evmsFlag.Name))
	for i := range evms {
		evms[i] = evm.NewGethEvm(store, chainID)
	}

	pool := evm.NewPool(evms, store)
	executor := eth.NewExecutor(pool, miner.NewMiner(store), store)
	defer executor.Close()

	log.Info("stratus started", "evms", len(evms), "chainId", chainID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	if interval := c.Duration(mineIntervalFlag.Name); interval > 0 {
		group.Go(func() error { return mineOnInterval(ctx, executor, interval) })
	}
	group.Go(func() error { return logNewHeads(ctx, executor) })

	err := group.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func mineOnInterval(ctx context.Context, executor *eth.Executor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := executor.MineEmptyBlock(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func logNewHeads(ctx context.Context, executor *eth.Executor) error {
	heads, unsubscribe := executor.SubscribeToNewHeads()
	defer unsubscribe()

	for {
		select {
		case block := <-heads:
			log.Info("new block", "number", block.Number(), "hash", block.Hash(), "txCount", len(block.Transactions))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// testAccounts returns the well-known development accounts, each funded with
// one million ether.
func testAccounts() []*primitives.Account {
	addresses := []common.Address{
		common.HexToAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"),
		common.HexToAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8"),
		common.HexToAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"),
		common.HexToAddress("0x90f79bf6eb2c4f870365e785982e1f101e93b906"),
	}

	balance := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(uint64(params.Ether)))
	accounts := make([]*primitives.Account, len(addresses))
	for i, address := range addresses {
		accounts[i] = primitives.NewAccountWithBalance(address, balance)
	}
	return accounts
}
