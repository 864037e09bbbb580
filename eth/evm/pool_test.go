package evm

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

// echoEvm answers with the task's own payload so tests can verify that every
// caller receives the result of its own submission.
type echoEvm struct {
	delay time.Duration
}

func (e *echoEvm) Execute(input *EvmInput) (*primitives.Execution, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return &primitives.Execution{Result: primitives.ResultSuccess, Output: input.Data}, nil
}

type panickingEvm struct{}

func (panickingEvm) Execute(*EvmInput) (*primitives.Execution, error) {
	panic("worker died")
}

func testStore() *storage.StratusStorage {
	return storage.NewStratusStorage(
		storage.NewInMemoryTemporaryStorage(),
		storage.NewInMemoryPermanentStorage(),
	)
}

func TestPoolRoutesResultsToSubmitter(t *testing.T) {
	pool := NewPool([]Evm{&echoEvm{}, &echoEvm{}, &echoEvm{}}, testStore())
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := make([]byte, 8)
			binary.BigEndian.PutUint64(payload, uint64(i))

			execution, err := pool.Execute(context.Background(), &EvmInput{Data: payload})
			if err != nil {
				t.Errorf("submission %d failed: %v", i, err)
				return
			}
			if binary.BigEndian.Uint64(execution.Output) != uint64(i) {
				t.Errorf("submission %d received someone else's result", i)
			}
		}(i)
	}
	wg.Wait()
}

func TestPoolWorkerPanicPropagatesAsError(t *testing.T) {
	pool := NewPool([]Evm{panickingEvm{}}, testStore())
	defer pool.Close()

	_, err := pool.Execute(context.Background(), &EvmInput{})
	if !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("expected ErrWorkerUnavailable, got %v", err)
	}
}

func TestPoolCloseFailsSubmissions(t *testing.T) {
	pool := NewPool([]Evm{&echoEvm{}}, testStore())
	pool.Close()

	_, err := pool.Execute(context.Background(), &EvmInput{})
	if !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("expected ErrWorkerUnavailable after close, got %v", err)
	}
}

func TestPoolCancelledCallerAbandonsReply(t *testing.T) {
	pool := NewPool([]Evm{&echoEvm{delay: 50 * time.Millisecond}}, testStore())
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Execute(ctx, &EvmInput{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
