// Package tdsrv is the trading server facade: it wires the worker
// dispatch, the flow-control steps, the order ledger, the gateway, and
// persistence into the submission and reconciliation paths.
package tdsrv

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/database"
	"github.com/quantfabric/tradesrv/internal/dispatch"
	"github.com/quantfabric/tradesrv/internal/flowctrl"
	"github.com/quantfabric/tradesrv/internal/gateway"
	"github.com/quantfabric/tradesrv/internal/order"
	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

// Result is the outcome of one submission-path operation.
type Result struct {
	StatusCode int
	// RuleNo is the flow-control rule that rejected the operation, zero
	// otherwise.
	RuleNo uint32
	// Order is a snapshot of the order after the operation.
	Order *order.Order
}

// Options carries the collaborators and tuning the server needs.
type Options struct {
	Ledger   *order.Ledger
	Repo     *database.Repository
	Gateway  gateway.Gateway
	Fees     order.FeeResolver
	Targets  flowctrl.TargetStates
	Dispatch dispatch.Config

	// ResyncInterval and ResyncOlderThan drive the periodic open-order
	// sweep; Resync receives every stale open order and is expected to
	// requery the venue, feeding the answer back through OnOrderReport.
	ResyncInterval  time.Duration
	ResyncOlderThan time.Duration
	Resync          func(ctx context.Context, o *order.Order)

	// PubTopic is called when a triggered rule carries the PubTopic
	// action.
	PubTopic func(info *flowctrl.TriggerInfo)
}

// Server owns the order submission and reconciliation paths.
type Server struct {
	ledger  *order.Ledger
	repo    *database.Repository
	gw      gateway.Gateway
	fees    order.FeeResolver
	targets flowctrl.TargetStates

	pool     *dispatch.Pool
	handlers []*flowctrl.Handlers // one per worker, owned by that worker

	resyncInterval  time.Duration
	resyncOlderThan time.Duration
	resync          func(ctx context.Context, o *order.Order)
	pubTopic        func(info *flowctrl.TriggerInfo)

	stop chan struct{}
	done chan struct{}
	log  *zap.Logger
}

func New(opts Options, log *zap.Logger) (*Server, error) {
	if opts.Ledger == nil || opts.Repo == nil || opts.Gateway == nil {
		return nil, errors.New("tdsrv: ledger, repo, and gateway are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Compile once on the bootstrap goroutine so a malformed routing
	// setup is a startup failure, not a worker-start panic.
	defs, err := opts.Repo.LoadRuleDefs()
	if err != nil {
		return nil, err
	}
	if _, err := flowctrl.Compile(defs, zap.NewNop()); err != nil {
		return nil, err
	}

	s := &Server{
		ledger:          opts.Ledger,
		repo:            opts.Repo,
		gw:              opts.Gateway,
		fees:            opts.Fees,
		targets:         opts.Targets,
		resyncInterval:  opts.ResyncInterval,
		resyncOlderThan: opts.ResyncOlderThan,
		resync:          opts.Resync,
		pubTopic:        opts.PubTopic,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		log:             log.Named("tdsrv"),
	}

	cfg := opts.Dispatch
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	s.handlers = make([]*flowctrl.Handlers, cfg.Workers)
	s.pool = dispatch.NewPool(cfg, dispatch.Hooks{
		OnWorkerStart: s.workerStart,
		OnWorkerStop:  s.workerStop,
		OnTick:        s.workerFlush,
	}, log)
	return s, nil
}

// Start warms the ledger from durable storage and launches the workers
// and the resync sweep.
func (s *Server) Start() error {
	open, err := s.repo.LoadOpenOrders()
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := s.ledger.Admit(o); err != nil {
			s.log.Warn("skip order on warm-up", zap.String("order", o.ShortString()), zap.Error(err))
		}
	}
	s.log.Info("ledger warmed up", zap.Int("openOrders", s.ledger.Len()))

	s.pool.Start()
	go s.resyncLoop()
	return nil
}

// Stop drains the workers (flushing their counters) and the resync loop.
func (s *Server) Stop() {
	close(s.stop)
	<-s.done
	s.pool.Stop()
}

// workerStart builds the worker's private flow-control state: compiled
// rules plus the persisted counters.
func (s *Server) workerStart(worker int) {
	defs, err := s.repo.LoadRuleDefs()
	if err != nil {
		s.log.Error("load flow ctrl rules", zap.Int("worker", worker), zap.Error(err))
		defs = nil
	}
	store, err := flowctrl.Compile(defs, s.log)
	if err != nil {
		// Already validated at construction; a failure here means the
		// definitions changed underneath us.
		s.log.Error("compile flow ctrl rules", zap.Int("worker", worker), zap.Error(err))
		store, _ = flowctrl.Compile(nil, s.log)
	}
	counters, err := s.repo.LoadCounters()
	if err != nil {
		s.log.Error("load flow ctrl counters", zap.Int("worker", worker), zap.Error(err))
	}
	store.Load(counters)
	s.handlers[worker] = flowctrl.NewHandlers(store, s.targets, s.recorder(), s.log)
}

// recorder persists every trigger audit row and fans PubTopic-flagged
// triggers out to the configured publisher.
func (s *Server) recorder() flowctrl.Recorder {
	return recorderFunc(func(info *flowctrl.TriggerInfo) {
		s.repo.RecordTrigger(info)
		if s.pubTopic == nil {
			return
		}
		for _, a := range info.Actions {
			if a == flowctrl.ActionPubTopic {
				s.pubTopic(info)
				return
			}
		}
	})
}

type recorderFunc func(info *flowctrl.TriggerInfo)

func (f recorderFunc) RecordTrigger(info *flowctrl.TriggerInfo) { f(info) }

func (s *Server) workerFlush(worker int) {
	h := s.handlers[worker]
	if h == nil {
		return
	}
	if dirty := h.Store().Save(); len(dirty) > 0 {
		s.repo.SaveCounters(dirty)
	}
}

func (s *Server) workerStop(worker int) {
	s.workerFlush(worker)
}

// SubmitOrder runs the submission path: flow-control gates, ledger
// admission, gateway submit with rollback on failure. It blocks until the
// order's worker has decided.
func (s *Server) SubmitOrder(ctx context.Context, o *order.Order) (Result, error) {
	in := o.Clone()
	if in.OrderID == 0 {
		in.OrderID = order.NewOrderID()
	}
	if in.OrderTime == 0 {
		in.OrderTime = time.Now().UnixMilli()
	}
	in.Status = order.StatusCreated

	resC := make(chan Result, 1)
	err := s.pool.Dispatch(in, func(worker int) {
		resC <- s.submitOnWorker(ctx, worker, in)
	})
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-resC:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Server) submitOnWorker(ctx context.Context, worker int, in *order.Order) Result {
	if ruleNo := s.handlers[worker].OnOrder(in); ruleNo != 0 {
		in.Status = order.StatusFailed
		in.StatusCode = statuscode.RejectedByRiskCtrl
		ordersRejected.Inc()
		return Result{StatusCode: in.StatusCode, RuleNo: ruleNo, Order: in.Clone()}
	}

	in.Status = order.StatusConfirmedInLocal
	if err := s.ledger.Admit(in); err != nil {
		s.log.Error("admit order", zap.String("order", in.ShortString()), zap.Error(err))
		return Result{StatusCode: statuscode.DuplicateOrderID, Order: in.Clone()}
	}

	exchOrderID, err := s.gw.SubmitOrder(ctx, in)
	if err != nil {
		// Roll back the admission so a retry with the same id works.
		if derr := s.ledger.Discard(in.OrderID); derr != nil {
			s.log.Error("discard order after submit failure",
				zap.Uint64("orderId", in.OrderID), zap.Error(derr))
		}
		s.log.Error("submit order to gateway",
			zap.String("order", in.ShortString()), zap.Error(err))
		in.Status = order.StatusFailed
		in.StatusCode = statuscode.SubmitToGatewayFailed
		// The order closed without dealing; release the quotas it charged.
		s.handlers[worker].OnOrderRet(in)
		return Result{StatusCode: in.StatusCode, Order: in.Clone()}
	}

	in.Status = order.StatusPending
	if exchOrderID != 0 {
		if err := s.ledger.SetExchOrderID(in.OrderID, exchOrderID); err != nil {
			s.log.Warn("set exch order id", zap.Uint64("orderId", in.OrderID), zap.Error(err))
		}
		in.ExchOrderID = exchOrderID
	}
	ordersAccepted.Inc()
	s.repo.UpsertOrder(in)
	return Result{StatusCode: statuscode.OK, Order: in.Clone()}
}

// CancelOrder runs the cancel path for an admitted order, gated by the
// cancel-count quotas.
func (s *Server) CancelOrder(ctx context.Context, orderID uint64) (Result, error) {
	o, err := s.ledger.Get(orderID)
	if err != nil {
		return Result{StatusCode: statuscode.OrderNotFound}, nil
	}

	resC := make(chan Result, 1)
	err = s.pool.Dispatch(o, func(worker int) {
		resC <- s.cancelOnWorker(ctx, worker, o)
	})
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-resC:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Server) cancelOnWorker(ctx context.Context, worker int, o *order.Order) Result {
	if ruleNo := s.handlers[worker].OnCancelOrder(o); ruleNo != 0 {
		return Result{StatusCode: statuscode.RejectedByRiskCtrl, RuleNo: ruleNo, Order: o}
	}
	if err := s.gw.CancelOrder(ctx, o); err != nil {
		s.log.Error("cancel order via gateway",
			zap.String("order", o.ShortString()), zap.Error(err))
		return Result{StatusCode: statuscode.CancelToGatewayFailed, Order: o}
	}
	return Result{StatusCode: statuscode.OK, Order: o}
}

// OnCancelAck feeds an inbound cancel acknowledgement to its worker's
// cancel-ack step. No target gates cancel acks today.
func (s *Server) OnCancelAck(incoming *order.Order) error {
	return s.pool.Dispatch(incoming, func(worker int) {
		s.handlers[worker].OnCancelOrderRet(incoming)
	})
}

// OnOrderReport feeds an inbound exchange drop-copy/fill report through
// the ledger's exchange-report reconciliation and, on material change,
// persists the new state and releases or charges quotas.
func (s *Server) OnOrderReport(incoming *order.Order) error {
	return s.pool.Dispatch(incoming, func(worker int) {
		changed, snapshot, err := s.ledger.ReconcileExchangeReport(incoming, s.fees)
		if err != nil {
			s.log.Warn("reconcile exchange report",
				zap.String("report", incoming.ShortString()), zap.Error(err))
			return
		}
		ordersReconciled.Inc()
		if !changed {
			return
		}
		s.handlers[worker].OnOrderRet(snapshot)
		s.repo.UpsertOrder(snapshot)
	})
}

// OnGatewayAck feeds an inbound gateway acknowledgement through the
// replacing reconciliation path.
func (s *Server) OnGatewayAck(incoming *order.Order) error {
	return s.pool.Dispatch(incoming, func(worker int) {
		usable, snapshot, err := s.ledger.ReconcileGatewayAck(incoming)
		if err != nil {
			s.log.Warn("reconcile gateway ack",
				zap.String("ack", incoming.ShortString()), zap.Error(err))
			return
		}
		ordersReconciled.Inc()
		if !usable {
			return
		}
		s.handlers[worker].OnOrderRet(snapshot)
		s.repo.UpsertOrder(snapshot)
	})
}

// resyncLoop periodically re-queries open orders whose state may have
// drifted while reports were lost.
func (s *Server) resyncLoop() {
	defer close(s.done)
	if s.resync == nil || s.resyncInterval <= 0 {
		<-s.stop
		return
	}
	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.resyncInterval)
			for _, o := range s.ledger.OpenOrders(s.resyncOlderThan) {
				s.resync(ctx, o)
			}
			cancel()
		}
	}
}
