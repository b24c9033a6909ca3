package runs

import (
	"context"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"golang.org/x/xerrors"
)

var ErrDispatcherStopped = xerrors.New("dispatcher stopped")

// ExecuteFunc runs one queued flow to completion.
type ExecuteFunc func(ctx context.Context, uuid string)

// Dispatcher hands queued run ids to workers.
type Dispatcher interface {
	Start(execute ExecuteFunc)
	Dispatch(uuid string) error
	Stop()
}

// InProcessDispatcher is a fixed pool of goroutines fed by a queue.
type InProcessDispatcher struct {
	workers int
	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lk      sync.RWMutex
	stopped bool
}

func NewInProcessDispatcher(workers int) *InProcessDispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcessDispatcher{
		workers: workers,
		queue:   make(chan string, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *InProcessDispatcher) Start(execute ExecuteFunc) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for uuid := range d.queue {
				logs.GetLogger().Infof("worker %d picked run %s", worker, uuid)
				execute(d.ctx, uuid)
			}
		}(i)
	}
}

func (d *InProcessDispatcher) Dispatch(uuid string) error {
	d.lk.RLock()
	defer d.lk.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- uuid:
		return nil
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	}
}

// Stop cancels running flows and waits for the workers to return.
func (d *InProcessDispatcher) Stop() {
	d.cancel()
	d.lk.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.lk.Unlock()
	d.wg.Wait()
}
