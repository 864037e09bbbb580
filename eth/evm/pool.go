package evm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

// taskBacklog is the depth of the shared task channel. Producers are async
// callers that must not block on dispatch; the backlog is far above any
// realistic number of in-flight submissions.
const taskBacklog = 4096

// ErrWorkerUnavailable is returned when the pool has been closed or a worker
// died before producing a result.
var ErrWorkerUnavailable = errors.New("evm worker unavailable")

type evmTask struct {
	input *EvmInput
	reply chan evmResult
}

type evmResult struct {
	execution *primitives.Execution
	err       error
}

// Pool dispatches EVM work to a fixed set of workers. Each worker runs on a
// dedicated OS thread and exclusively owns one Evm instance; any free worker
// picks the next task from the shared channel and answers through the task's
// reply channel.
type Pool struct {
	tasks chan evmTask
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewPool starts one worker per Evm. Worker threads allocate their
// storage-side thread resources before consuming tasks.
func NewPool(evms []Evm, store *storage.StratusStorage) *Pool {
	pool := &Pool{
		tasks: make(chan evmTask, taskBacklog),
		quit:  make(chan struct{}),
	}

	for i, instance := range evms {
		pool.wg.Add(1)
		go pool.worker(i, instance, store)
	}
	return pool
}

func (p *Pool) worker(id int, instance Evm, store *storage.StratusStorage) {
	defer p.wg.Done()

	// The EVM blocks synchronously on the task channel and may pin
	// implementation resources to its thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := store.AllocateEvmThreadResources(); err != nil {
		log.Error("failed to allocate evm thread resources", "worker", id, "err", err)
		return
	}

	for {
		select {
		case task := <-p.tasks:
			execution, err := safeExecute(instance, task.input)
			task.reply <- evmResult{execution: execution, err: err}
		case <-p.quit:
			log.Warn("stopping evm worker because pool was closed", "worker", id)
			return
		}
	}
}

// safeExecute converts a worker panic into an error so the submitter is never
// left waiting on a dead worker.
func safeExecute(instance Evm, input *EvmInput) (execution *primitives.Execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: evm panicked: %v", ErrWorkerUnavailable, r)
		}
	}()
	return instance.Execute(input)
}

// Execute submits the input to the pool and waits for its result. Each caller
// receives the result of its own submission; ordering across workers is not
// guaranteed. Cancelling the context abandons the reply, the worker still
// completes and its result is discarded.
func (p *Pool) Execute(ctx context.Context, input *EvmInput) (*primitives.Execution, error) {
	task := evmTask{input: input, reply: make(chan evmResult, 1)}

	select {
	case p.tasks <- task:
	case <-p.quit:
		return nil, ErrWorkerUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-task.reply:
		return result.execution, result.err
	case <-p.quit:
		return nil, ErrWorkerUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every worker. In-flight submissions observe
// ErrWorkerUnavailable.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
