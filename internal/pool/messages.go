package pool

import (
	"context"

	"github.com/ecopia-map/city_tiler/internal/io"
)

// Messages sent by the pool to a worker inbox
type message interface {
	isMessage()
}

// First message of every worker, opens the handler
type initMessage struct {
	ctx context.Context
	cfg InitConfig
}

// Asks the worker to build one cell, the reply carries the same job id
type workMessage struct {
	ctx   context.Context
	jobID uint64
	unit  *io.WorkUnit
}

// Closes the handler and stops the worker
type terminateMessage struct{}

func (*initMessage) isMessage()      {}
func (*workMessage) isMessage()      {}
func (*terminateMessage) isMessage() {}

// Messages sent by workers on the shared reply channel
type reply interface {
	worker() int
}

type initReply struct {
	workerID int
	err      error
}

type workReply struct {
	workerID  int
	jobID     uint64
	tile      *io.Tile
	err       error
	alive     bool // false if the worker could not be restarted and has stopped
	restarted bool
}

func (r *initReply) worker() int { return r.workerID }
func (r *workReply) worker() int { return r.workerID }
