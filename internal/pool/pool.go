package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/metrics"
	"github.com/golang/glog"
)

var (
	// Wrapped by job errors caused by a worker fault (panic or broken handler) rather than by
	// the cell itself. The worker is restarted before taking more work.
	ErrWorkerFailed   = errors.New("worker failed")
	ErrTerminated     = errors.New("pool terminated")
	ErrNotInitialized = errors.New("pool not initialized")
	ErrNoWorkers      = errors.New("no worker alive")
)

// Builds the tile subtree of one cell. A handler is used by a single worker at a time.
type Handler interface {
	Handle(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error)
	Close() error
}

// Per worker initialization parameters
type InitConfig struct {
	StorePath string
	WorkerID  int
}

// Opens the resources of a worker, e.g. its own geometry store handle
type HandlerFactory func(ctx context.Context, cfg InitConfig) (Handler, error)

type Stats struct {
	Size        int
	Alive       int
	InFlight    int
	MaxInFlight int // highest number of jobs held by workers at the same time
	Completed   int
	Failed      int
	Restarts    int
}

type jobResult struct {
	tile *io.Tile
	err  error
}

// Fixed set of long lived workers exchanging messages with the pool. Submit blocks until a
// worker is Ready, so at most Size jobs are in flight.
type Pool struct {
	factory HandlerFactory
	workers []*worker
	replies chan reply
	wg      sync.WaitGroup
	done    chan struct{}

	mu          sync.Mutex
	cond        *sync.Cond
	initialized bool
	terminated  bool
	idle        []*worker
	alive       int
	nextJobID   uint64
	pending     map[uint64]chan jobResult
	stats       Stats
}

func NewPool(size int, factory HandlerFactory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if factory == nil {
		return nil, errors.New("nil handler factory")
	}
	p := &Pool{
		factory: factory,
		workers: make([]*worker, size),
		replies: make(chan reply, size),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan jobResult),
		stats:   Stats{Size: size},
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Starts the workers and waits until every one of them opened its handler. If any worker
// fails, the others are stopped and the pool is unusable.
func (p *Pool) Init(ctx context.Context, cfg InitConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return ErrTerminated
	}
	if p.initialized {
		return errors.New("pool already initialized")
	}

	for i := range p.workers {
		w := newWorker(i, p.factory, p.replies)
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
		workerCfg := cfg
		workerCfg.WorkerID = i
		w.inbox <- &initMessage{ctx: ctx, cfg: workerCfg}
	}

	var errs []error
	for range p.workers {
		r := (<-p.replies).(*initReply)
		if r.err != nil {
			p.workers[r.workerID].state = Terminated
			errs = append(errs, r.err)
			continue
		}
		w := p.workers[r.workerID]
		w.state = Ready
		p.idle = append(p.idle, w)
	}

	if len(errs) > 0 {
		p.terminated = true
		p.stopIdle()
		p.wg.Wait()
		close(p.done)
		return errors.Join(errs...)
	}

	p.initialized = true
	p.alive = len(p.workers)
	p.stats.Alive = p.alive
	metrics.WorkersAlive.Set(float64(p.alive))
	go p.collect()
	glog.V(1).Infof("worker pool ready with %d workers", p.alive)

	return nil
}

// Runs the work unit on the next Ready worker and waits for its reply. Blocks while every
// alive worker is Busy. The context only bounds the wait for a free worker, once assigned
// the job runs until its worker replies.
func (p *Pool) Submit(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for {
		if p.terminated {
			p.mu.Unlock()
			return nil, ErrTerminated
		}
		if !p.initialized {
			p.mu.Unlock()
			return nil, ErrNotInitialized
		}
		if p.alive == 0 {
			p.mu.Unlock()
			return nil, ErrNoWorkers
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if len(p.idle) > 0 {
			break
		}
		p.cond.Wait()
	}

	w := p.idle[0]
	p.idle = p.idle[1:]
	w.state = Busy
	p.nextJobID++
	jobID := p.nextJobID
	result := make(chan jobResult, 1)
	p.pending[jobID] = result
	p.stats.InFlight++
	if p.stats.InFlight > p.stats.MaxInFlight {
		p.stats.MaxInFlight = p.stats.InFlight
	}
	metrics.JobsInFlight.Set(float64(p.stats.InFlight))
	p.mu.Unlock()

	w.inbox <- &workMessage{ctx: ctx, jobID: jobID, unit: unit}
	res := <-result

	return res.tile, res.err
}

// Routes worker replies to the pending jobs and puts workers back in the idle queue
func (p *Pool) collect() {
	defer close(p.done)

	for r := range p.replies {
		wr, ok := r.(*workReply)
		if !ok {
			glog.Warningf("unexpected reply from worker %d", r.worker())
			continue
		}

		p.mu.Lock()
		result := p.pending[wr.jobID]
		delete(p.pending, wr.jobID)
		p.stats.InFlight--
		if wr.err != nil {
			p.stats.Failed++
		} else {
			p.stats.Completed++
		}
		if wr.restarted {
			p.stats.Restarts++
			metrics.WorkerRestarts.Inc()
		}

		w := p.workers[wr.workerID]
		if wr.alive {
			w.state = Ready
			p.idle = append(p.idle, w)
		} else {
			w.state = Terminated
			p.alive--
			p.stats.Alive = p.alive
			metrics.WorkersAlive.Set(float64(p.alive))
		}
		metrics.JobsInFlight.Set(float64(p.stats.InFlight))
		p.cond.Broadcast()
		p.mu.Unlock()

		if result == nil {
			glog.Errorf("reply for unknown job %d from worker %d", wr.jobID, wr.workerID)
			continue
		}
		result <- jobResult{tile: wr.tile, err: wr.err}
	}
}

// Waits for the jobs in flight, then stops every worker, each closing its handler. Submit
// fails with ErrTerminated afterwards.
func (p *Pool) Terminate() error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.cond.Broadcast()
	if !p.initialized {
		p.mu.Unlock()
		return nil
	}
	for len(p.idle) < p.alive {
		p.cond.Wait()
	}
	p.stopIdle()
	p.mu.Unlock()

	p.wg.Wait()
	close(p.replies)
	<-p.done

	var errs []error
	for _, w := range p.workers {
		if w.closeErr != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.id, w.closeErr))
		}
	}
	metrics.WorkersAlive.Set(0)
	glog.V(1).Infof("worker pool terminated")

	return errors.Join(errs...)
}

// must be called with the lock held
func (p *Pool) stopIdle() {
	for _, w := range p.idle {
		w.state = Terminated
		w.inbox <- &terminateMessage{}
	}
	p.idle = nil
	p.alive = 0
	p.stats.Alive = 0
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) WorkerStates() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		if w == nil {
			states[i] = Uninitialized
			continue
		}
		states[i] = w.state
	}
	return states
}
