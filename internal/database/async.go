package database

import (
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

// Op is one deferred database operation.
type Op func(db *gorm.DB) error

// AsyncExecutor runs database operations on a background worker so the
// order hot path never blocks on storage. Submission returns a status
// code only: OK means queued, not durable. Execution errors are logged
// and dropped; in-memory state is the source of truth.
type AsyncExecutor struct {
	db    *gorm.DB
	queue chan Op
	wg    sync.WaitGroup
	once  sync.Once
	log   *zap.Logger
}

func NewAsyncExecutor(db *gorm.DB, queueDepth int, log *zap.Logger) *AsyncExecutor {
	if queueDepth <= 0 {
		queueDepth = 10240
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &AsyncExecutor{
		db:    db,
		queue: make(chan Op, queueDepth),
		log:   log.Named("dbeng"),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *AsyncExecutor) run() {
	defer e.wg.Done()
	for op := range e.queue {
		if err := op(e.db); err != nil {
			e.log.Error("async db exec failed", zap.Error(err))
		}
	}
}

// AsyncExec queues an operation, never blocking: a full queue is a
// submission failure reported to the caller and otherwise dropped.
func (e *AsyncExecutor) AsyncExec(op Op) int {
	select {
	case e.queue <- op:
		return statuscode.OK
	default:
		e.log.Error("async db exec queue full, drop write")
		return statuscode.AsyncExecFailed
	}
}

// Close drains the queue and stops the worker. Safe to call twice.
func (e *AsyncExecutor) Close() {
	e.once.Do(func() { close(e.queue) })
	e.wg.Wait()
}
