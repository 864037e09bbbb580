// Package eth hosts the transaction executor: the coordinator that drives
// EVM execution, conflict detection, block mining, state commit and event
// notification for a single-node execution engine.
package eth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/maxcabrajac/stratus/eth/evm"
	"github.com/maxcabrajac/stratus/eth/miner"
	"github.com/maxcabrajac/stratus/eth/notify"
	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

// notifierCapacity is the number of events buffered per subscriber.
const notifierCapacity = 65535

// maxTransactRetries bounds the optimistic execution loop. Every retry
// re-executes against refreshed state, and each concurrent commit strictly
// advances the tip, so the budget is only exhausted under pathological
// contention.
const maxTransactRetries = 16

var (
	// ErrZeroSigner rejects transactions whose recovered signer is the zero
	// address.
	ErrZeroSigner = errors.New("transaction sent from zero address is not allowed")

	// ErrRetryBudgetExhausted is returned when a transaction keeps conflicting
	// past the retry budget.
	ErrRetryBudgetExhausted = errors.New("transaction retry budget exhausted")

	// ErrReceiptMissing is returned by import when an external transaction has
	// no matching receipt.
	ErrReceiptMissing = errors.New("receipt missing for imported transaction")

	// ErrReceiptMismatch is returned by import when a local re-execution
	// diverges from the external receipt.
	ErrReceiptMismatch = errors.New("reexecution does not match external receipt")
)

// Executor orchestrates transaction execution, block production and state
// management. It owns the EVM worker pool, a miner guarded by a mutual
// exclusion lock, the layered storage and the event notifiers.
type Executor struct {
	pool  *evm.Pool
	miner *miner.Miner
	store *storage.StratusStorage

	// minerLock serializes header assembly and commit so the storage tip
	// advances atomically with block production.
	minerLock chan struct{}

	blockNotifier *notify.Notifier[*primitives.Block]
	logNotifier   *notify.Notifier[*primitives.LogMined]
}

// NewExecutor wires the executor with its collaborators.
func NewExecutor(pool *evm.Pool, blockMiner *miner.Miner, store *storage.StratusStorage) *Executor {
	return &Executor{
		pool:          pool,
		miner:         blockMiner,
		store:         store,
		minerLock:     make(chan struct{}, 1),
		blockNotifier: notify.New[*primitives.Block]("new_heads", notifierCapacity),
		logNotifier:   notify.New[*primitives.LogMined]("logs", notifierCapacity),
	}
}

func (e *Executor) lockMiner(ctx context.Context) error {
	select {
	case e.minerLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) unlockMiner() {
	<-e.minerLock
}

// Transact executes a live transaction, mines it into its own block, commits
// the block and broadcasts it. The returned Execution is the one whose
// changes were committed.
func (e *Executor) Transact(ctx context.Context, tx *primitives.TransactionInput) (*primitives.Execution, error) {
	log.Info("executing real transaction",
		"hash", tx.Hash,
		"nonce", tx.Nonce,
		"from", tx.From,
		"signer", tx.Signer,
		"to", tx.To,
		"dataLen", len(tx.Input),
	)

	if tx.Signer == (common.Address{}) {
		log.Warn("rejecting transaction from zero address", "hash", tx.Hash)
		return nil, ErrZeroSigner
	}

	return e.mineAndExecuteTransaction(ctx, tx)
}

// mineAndExecuteTransaction runs the optimistic loop: execute, check
// conflicts against the pending overlay, mine, commit. Conflicts detected
// either before mining or during commit restart the loop with fresh state.
func (e *Executor) mineAndExecuteTransaction(ctx context.Context, tx *primitives.TransactionInput) (*primitives.Execution, error) {
	for attempt := 0; attempt <= maxTransactRetries; attempt++ {
		execution, err := e.pool.Execute(ctx, evm.InputFromTransaction(tx))
		if err != nil {
			return nil, err
		}

		conflicts, err := e.store.CheckConflicts(execution)
		if err != nil {
			return nil, err
		}
		if conflicts != nil {
			log.Warn("storage conflict detected before mining block", "hash", tx.Hash, "conflicts", conflicts)
			continue
		}

		if err := e.lockMiner(ctx); err != nil {
			return nil, err
		}
		block, err := e.miner.MineWithOneTransaction(tx, execution)
		if err != nil {
			e.unlockMiner()
			return nil, err
		}
		commitErr := e.store.Commit(block)
		if commitErr != nil && storage.IsConflict(commitErr) {
			// The allocated number was never committed; give it back so the
			// committed sequence stays dense.
			if err := e.store.SetMinedBlockNumber(block.Number() - 1); err != nil {
				e.unlockMiner()
				return nil, err
			}
			e.unlockMiner()
			log.Warn("storage conflict detected when saving block", "hash", tx.Hash, "err", commitErr)
			continue
		}
		e.unlockMiner()
		if commitErr != nil {
			return nil, commitErr
		}

		e.notifyMinedBlock(block)
		return execution, nil
	}

	log.Error("transaction kept conflicting", "hash", tx.Hash, "retries", maxTransactRetries)
	return nil, ErrRetryBudgetExhausted
}

// Call executes a read-only invocation at the given point in time. State is
// not mutated and nothing is notified.
func (e *Executor) Call(ctx context.Context, input *primitives.CallInput, pointInTime primitives.PointInTime) (*primitives.Execution, error) {
	log.Info("executing read-only transaction",
		"from", input.From,
		"to", input.To,
		"dataLen", len(input.Data),
		"pointInTime", pointInTime,
	)
	return e.pool.Execute(ctx, evm.InputFromCall(input, pointInTime))
}

// Import re-executes an external block transaction by transaction, verifying
// each local execution against its external receipt and committing one block
// per transaction.
func (e *Executor) Import(ctx context.Context, external *primitives.ExternalBlock, receipts map[common.Hash]*primitives.ExternalReceipt) error {
	log.Info("importing external block", "number", external.Number(), "txCount", len(external.Transactions))

	for _, externalTx := range external.Transactions {
		receipt, ok := receipts[externalTx.Hash()]
		if !ok {
			log.Error("receipt is missing", "hash", externalTx.Hash())
			return fmt.Errorf("%w: %s", ErrReceiptMissing, externalTx.Hash())
		}

		input, err := primitives.TransactionInputFromExternal(externalTx, externalTx.ChainId())
		if err != nil {
			return err
		}

		execution, err := e.pool.Execute(ctx, evm.InputFromExternalTransaction(external, input))
		if err != nil {
			return err
		}
		if err := execution.CompareWithReceipt(receipt); err != nil {
			log.Error("mismatch reexecuting transaction", "hash", input.Hash, "err", err)
			return fmt.Errorf("%w: %v", ErrReceiptMismatch, err)
		}

		if err := e.lockMiner(ctx); err != nil {
			return err
		}
		block, err := e.miner.MineWithOneTransaction(input, execution)
		if err == nil {
			err = e.store.Commit(block)
		}
		e.unlockMiner()
		if err != nil {
			return err
		}
	}
	return nil
}

// ImportOffline re-executes an external block as a whole: every transaction
// is verified against its receipt while seeding the pending overlay, and the
// block is committed atomically only after all transactions succeed. Any
// failure aborts before commit and leaves no partial state behind.
func (e *Executor) ImportOffline(ctx context.Context, external *primitives.ExternalBlock, receipts map[common.Hash]*primitives.ExternalReceipt) error {
	log.Info("importing offline block", "number", external.Number(), "txCount", len(external.Transactions))

	number := external.Number()
	if err := e.store.SetExternalBlock(external); err != nil {
		return err
	}
	if err := e.store.SetActiveBlockNumber(number); err != nil {
		return err
	}

	abort := func(err error) error {
		if resetErr := e.store.ResetTemp(); resetErr != nil {
			log.Error("failed to reset temporary storage after aborted import", "err", resetErr)
		}
		return err
	}

	executions := make([]*primitives.ExternalTransactionExecution, 0, len(external.Transactions))
	for _, externalTx := range external.Transactions {
		receipt, ok := receipts[externalTx.Hash()]
		if !ok {
			log.Error("receipt is missing", "hash", externalTx.Hash())
			return abort(fmt.Errorf("%w: %s", ErrReceiptMissing, externalTx.Hash()))
		}

		input, err := primitives.TransactionInputFromExternal(externalTx, externalTx.ChainId())
		if err != nil {
			return abort(err)
		}

		execution, err := e.pool.Execute(ctx, evm.InputFromExternalTransaction(external, input))
		if err != nil {
			return abort(err)
		}
		if err := execution.CompareWithReceipt(receipt); err != nil {
			log.Error("mismatch reexecuting transaction", "hash", input.Hash, "err", err)
			return abort(fmt.Errorf("%w: %v", ErrReceiptMismatch, err))
		}

		// Seed the overlay so the next transactions of this block observe the
		// effects of this one.
		if err := e.store.SaveAccountChanges(number, execution); err != nil {
			return abort(err)
		}
		executions = append(executions, &primitives.ExternalTransactionExecution{
			Transaction: externalTx,
			Receipt:     receipt,
			Execution:   execution,
		})
	}

	block, err := e.miner.MineFromExternal(external, executions)
	if err != nil {
		return abort(err)
	}
	if err := e.store.SetMinedBlockNumber(number); err != nil {
		return abort(err)
	}
	if err := e.store.Commit(block); err != nil {
		log.Error("failed to commit imported block", "number", number, "err", err)
		return err
	}
	return nil
}

// MineEmptyBlock mines and commits a block with no transactions and
// broadcasts it.
func (e *Executor) MineEmptyBlock(ctx context.Context) error {
	if err := e.lockMiner(ctx); err != nil {
		return err
	}
	block, err := e.miner.MineWithNoTransactions()
	if err == nil {
		err = e.store.Commit(block)
	}
	e.unlockMiner()
	if err != nil {
		return err
	}

	e.notifyMinedBlock(block)
	return nil
}

func (e *Executor) notifyMinedBlock(block *primitives.Block) {
	e.blockNotifier.Send(block)
	for _, minedLog := range block.MinedLogs() {
		e.logNotifier.Send(minedLog)
	}
}

// SubscribeToNewHeads streams committed blocks to the caller.
func (e *Executor) SubscribeToNewHeads() (<-chan *primitives.Block, func()) {
	return e.blockNotifier.Subscribe()
}

// SubscribeToLogs streams mined logs to the caller.
func (e *Executor) SubscribeToLogs() (<-chan *primitives.LogMined, func()) {
	return e.logNotifier.Subscribe()
}

// Storage exposes the layered storage shared with external collaborators.
func (e *Executor) Storage() *storage.StratusStorage {
	return e.store
}

// Close shuts the worker pool down. In-flight submissions fail with a worker
// unavailable error.
func (e *Executor) Close() {
	e.pool.Close()
}
