package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/golang/glog"
)

type WorkerState int

const (
	Uninitialized WorkerState = iota
	Ready
	Busy
	Terminated
)

func (s WorkerState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Ready:
		return "READY"
	case Busy:
		return "BUSY"
	case Terminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// Long lived worker owning one handler. Only the worker goroutine touches the handler.
type worker struct {
	id       int
	factory  HandlerFactory
	cfg      InitConfig
	handler  Handler
	inbox    chan message
	replies  chan<- reply
	closeErr error

	state WorkerState // guarded by the pool mutex
}

func newWorker(id int, factory HandlerFactory, replies chan<- reply) *worker {
	return &worker{
		id:      id,
		factory: factory,
		inbox:   make(chan message, 1),
		replies: replies,
		state:   Uninitialized,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for msg := range w.inbox {
		switch m := msg.(type) {
		case *initMessage:
			w.cfg = m.cfg
			err := w.open(m.ctx)
			w.replies <- &initReply{workerID: w.id, err: err}
			if err != nil {
				return
			}
		case *workMessage:
			tile, err := w.handle(m.ctx, m.unit)
			r := &workReply{workerID: w.id, jobID: m.jobID, tile: tile, err: err, alive: true}
			if errors.Is(err, ErrWorkerFailed) {
				r.alive = w.restart(m.ctx)
				r.restarted = r.alive
			}
			w.replies <- r
			if !r.alive {
				return
			}
		case *terminateMessage:
			w.closeErr = w.close()
			return
		}
	}
}

// Runs the handler, turning a panic into a worker failure
func (w *worker) handle(ctx context.Context, unit *io.WorkUnit) (tile *io.Tile, err error) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("worker %d panicked on cell %d: %v\n%s", w.id, unit.CellIndex, r, debug.Stack())
			tile, err = nil, fmt.Errorf("%w: panic: %v", ErrWorkerFailed, r)
		}
	}()
	return w.handler.Handle(ctx, unit)
}

// Replaces the handler after a fatal failure. Returns false if no new handler could be opened.
func (w *worker) restart(ctx context.Context) bool {
	if err := w.close(); err != nil {
		glog.Warningf("worker %d: close failed handler: %v", w.id, err)
	}
	if err := w.open(context.WithoutCancel(ctx)); err != nil {
		glog.Errorf("worker %d could not be restarted, pool size reduced: %v", w.id, err)
		return false
	}
	glog.V(1).Infof("worker %d restarted", w.id)
	return true
}

// A panicking factory counts as a failed init
func (w *worker) open(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("worker %d panicked opening its handler: %v\n%s", w.id, r, debug.Stack())
			err = fmt.Errorf("worker %d init: %w: panic: %v", w.id, ErrWorkerFailed, r)
		}
	}()
	handler, err := w.factory(ctx, w.cfg)
	if err != nil {
		return fmt.Errorf("worker %d init: %w", w.id, err)
	}
	w.handler = handler
	return nil
}

func (w *worker) close() error {
	if w.handler == nil {
		return nil
	}
	err := w.handler.Close()
	w.handler = nil
	return err
}
