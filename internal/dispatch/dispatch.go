// Package dispatch routes every order and its follow-up events to exactly
// one worker goroutine, hashed over the canonical condition value of the
// shared routing field set. Flow-control counters live per worker, so the
// routing invariant is what keeps each logical counter on one goroutine.
package dispatch

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/condition"
	"github.com/quantfabric/tradesrv/internal/order"
)

// Hooks run inside the owning worker goroutine, giving callers a place to
// build and tear down worker-private state.
type Hooks struct {
	OnWorkerStart func(worker int)
	OnWorkerStop  func(worker int)
	OnTick        func(worker int)
}

type Config struct {
	Workers      int
	QueueDepth   int
	TickInterval time.Duration
}

// Pool is a fixed set of worker goroutines with per-worker queues.
type Pool struct {
	queues []chan func(worker int)
	hooks  Hooks
	tick   time.Duration
	wg     sync.WaitGroup
	once   sync.Once
	log    *zap.Logger
}

func NewPool(cfg Config, hooks Hooks, log *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		queues: make([]chan func(worker int), cfg.Workers),
		hooks:  hooks,
		tick:   cfg.TickInterval,
		log:    log.Named("dispatch"),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(worker int), cfg.QueueDepth)
	}
	return p
}

// Start launches the workers. Each runs its start hook before consuming
// and its stop hook after its queue drains.
func (p *Pool) Start() {
	for i := range p.queues {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(worker int) {
	defer p.wg.Done()
	if p.hooks.OnWorkerStart != nil {
		p.hooks.OnWorkerStart(worker)
	}
	defer func() {
		if p.hooks.OnWorkerStop != nil {
			p.hooks.OnWorkerStop(worker)
		}
	}()

	var tickC <-chan time.Time
	if p.tick > 0 && p.hooks.OnTick != nil {
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case fn, ok := <-p.queues[worker]:
			if !ok {
				return
			}
			fn(worker)
		case <-tickC:
			p.hooks.OnTick(worker)
		}
	}
}

// RoutingKey is the canonical condition value every routing decision
// hashes: the order's routing fields resolved through the condition
// engine, so rule scoping and worker routing can never disagree on how a
// field is rendered.
func RoutingKey(o *order.Order) (string, error) {
	fields, err := condition.ParseFieldList(condition.RoutingFields)
	if err != nil {
		return "", err
	}
	key, _, err := condition.Resolve(o, fields)
	return key, err
}

// Route returns the worker an order belongs to.
func (p *Pool) Route(o *order.Order) (int, error) {
	key, err := RoutingKey(o)
	if err != nil {
		return 0, fmt.Errorf("derive routing key: %w", err)
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(len(p.queues))), nil
}

// Dispatch enqueues fn on the order's worker, blocking when the worker is
// backlogged.
func (p *Pool) Dispatch(o *order.Order, fn func(worker int)) error {
	worker, err := p.Route(o)
	if err != nil {
		return err
	}
	p.queues[worker] <- fn
	return nil
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return len(p.queues) }

// Stop closes the queues and waits for the workers to drain and run
// their stop hooks. Safe to call twice.
func (p *Pool) Stop() {
	p.once.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
