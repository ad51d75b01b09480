package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/loomlabs/loom/checkpoint"
	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/internal/metrics"
	"github.com/loomlabs/loom/types"
)

// Engine executes a compiled graph against a checkpoint store. One
// engine serves many threads; each thread's steps run strictly one at
// a time, so two resumes of the same thread can never interleave.
type Engine struct {
	graph  *graph.Graph
	store  checkpoint.Store
	logger *zap.Logger
	tracer trace.Tracer

	registry  prometheus.Registerer
	collector *metrics.Collector

	maxConcurrent int64
	sem           *semaphore.Weighted
	nodeTimeout   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine over a compiled graph and a checkpoint store.
func New(g *graph.Graph, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, types.NewError(types.ErrValidationFailed, "engine requires a compiled graph")
	}
	if store == nil {
		return nil, types.NewError(types.ErrValidationFailed, "engine requires a checkpoint store")
	}

	e := &Engine{
		graph:  g,
		store:  store,
		logger: zap.NewNop(),
		tracer: otel.Tracer("loom/engine"),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.collector = metrics.NewCollector("loom", e.registry, e.logger)
	if e.maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(e.maxConcurrent)
	}
	return e, nil
}

// Invoke starts a new thread at the graph entry node. The initial map
// is merged over the schema defaults; a thread id that already has
// checkpoints is rejected.
func (e *Engine) Invoke(ctx context.Context, threadID string, initial map[string]any) (*Run, error) {
	if threadID == "" {
		return nil, types.NewError(types.ErrValidationFailed, "thread id must not be empty")
	}

	_, err := e.store.Latest(ctx, threadID)
	switch {
	case err == nil:
		return nil, types.NewError(types.ErrThreadExists,
			fmt.Sprintf("thread %q already has checkpoints", threadID))
	case !errors.Is(err, checkpoint.ErrNotFound):
		return nil, types.NewError(types.ErrPersistence, "loading thread").WithCause(err)
	}

	st, err := e.graph.Schema().Merge(e.graph.Schema().Defaults(), initial)
	if err != nil {
		return nil, err
	}

	run := newRun(threadID)
	go e.execute(context.WithoutCancel(ctx), run, e.graph.Entry(), st, 0)
	return run, nil
}

// Resume continues a suspended thread. The resume value is merged into
// the interrupt's declared state field under that field's policy, then
// the suspended node executes again with the merged state.
func (e *Engine) Resume(ctx context.Context, threadID string, value any) (*Run, error) {
	latest, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, types.NewError(types.ErrThreadNotFound,
			fmt.Sprintf("thread %q has no checkpoints", threadID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "loading thread").WithCause(err)
	}

	switch latest.Status() {
	case types.StatusCompleted:
		return nil, types.NewError(types.ErrThreadCompleted,
			fmt.Sprintf("thread %q already completed", threadID))
	case types.StatusSuspended:
	default:
		return nil, types.NewError(types.ErrNotSuspended,
			fmt.Sprintf("thread %q is not waiting on a resume value", threadID))
	}

	st, err := e.graph.Schema().Merge(latest.State, map[string]any{
		latest.Interrupt.Field: value,
	})
	if err != nil {
		return nil, err
	}

	run := newRun(threadID)
	go e.execute(context.WithoutCancel(ctx), run, latest.NodePointer, st, latest.Seq)
	return run, nil
}

// Retry re-runs an in-progress thread from its latest checkpoint. This
// is the recovery path after a failed step or a process crash: the node
// the checkpoint points at executes again with the checkpointed state.
// Handlers must therefore tolerate re-execution with identical input.
// Suspended threads are resumed with Resume, not retried.
func (e *Engine) Retry(ctx context.Context, threadID string) (*Run, error) {
	latest, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, types.NewError(types.ErrThreadNotFound,
			fmt.Sprintf("thread %q has no checkpoints", threadID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "loading thread").WithCause(err)
	}

	switch latest.Status() {
	case types.StatusCompleted:
		return nil, types.NewError(types.ErrThreadCompleted,
			fmt.Sprintf("thread %q already completed", threadID))
	case types.StatusSuspended:
		return nil, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("thread %q is suspended, use Resume", threadID))
	}

	run := newRun(threadID)
	go e.execute(context.WithoutCancel(ctx), run, latest.NodePointer, latest.State.Clone(), latest.Seq)
	return run, nil
}

// Status reports a thread's state as derived from its latest checkpoint.
func (e *Engine) Status(ctx context.Context, threadID string) (types.ThreadStatus, error) {
	latest, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return types.StatusNotFound, nil
	}
	if err != nil {
		return types.StatusNotFound, types.NewError(types.ErrPersistence, "loading thread").WithCause(err)
	}
	return latest.Status(), nil
}

// History returns a thread's full checkpoint log in seq order.
func (e *Engine) History(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	return e.store.History(ctx, threadID)
}

// execute is the engine's step loop. It owns the run's lifecycle: every
// successful step writes exactly one checkpoint before the next node
// runs, a failed step writes nothing, and the sink is sealed on exit.
func (e *Engine) execute(ctx context.Context, run *Run, node string, st graph.State, seq uint64) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			run.finish(types.StatusInProgress, err)
			return
		}
		defer e.sem.Release(1)
	}

	lock := e.threadLock(run.threadID)
	lock.Lock()
	defer lock.Unlock()

	// The pre-flight checks in Invoke/Resume/Retry ran before this lock
	// was held; a concurrent run on the same thread may have advanced the
	// log since. Re-verify authority here so a stale run dies before it
	// executes any node.
	if err := e.verifyAuthority(ctx, run.threadID, seq); err != nil {
		run.finish(types.StatusInProgress, err)
		return
	}

	e.collector.RunStarted()
	defer e.collector.RunFinished()

	logger := e.logger.With(zap.String("thread_id", run.threadID))
	logger.Info("run started", zap.String("node", node), zap.Uint64("seq", seq))

	for node != graph.END {
		result, err := e.step(ctx, run, node, st)
		if err != nil {
			logger.Error("node failed", zap.String("node", node), zap.Error(err))
			run.finish(types.StatusInProgress, err)
			return
		}

		if result.Interrupt != nil {
			// A suspending step freezes the state exactly as the node
			// received it; any updates only take effect on resume.
			e.collector.RecordInterrupt(node)
			seq++
			cp := checkpoint.New(run.threadID, seq, node, st, result.Interrupt)
			if err := e.saveCheckpoint(ctx, cp); err != nil {
				run.finish(types.StatusInProgress, err)
				return
			}
			logger.Info("run suspended",
				zap.String("node", node),
				zap.String("field", result.Interrupt.Field),
				zap.Uint64("seq", seq))
			run.finish(types.StatusSuspended, nil)
			return
		}

		st, err = e.graph.Schema().Merge(st, result.Updates)
		if err != nil {
			run.finish(types.StatusInProgress, err)
			return
		}

		next, err := e.route(node, result.Route, logger)
		if err != nil {
			run.finish(types.StatusInProgress, err)
			return
		}

		seq++
		cp := checkpoint.New(run.threadID, seq, next, st, nil)
		if err := e.saveCheckpoint(ctx, cp); err != nil {
			run.finish(types.StatusInProgress, err)
			return
		}
		node = next
	}

	logger.Info("run completed", zap.Uint64("seq", seq))
	run.finish(types.StatusCompleted, nil)
}

// step executes one node handler inside a span, with the configured
// per-node deadline. State is cloned so handlers cannot mutate the
// engine's copy behind the merge.
func (e *Engine) step(ctx context.Context, run *Run, node string, st graph.State) (*graph.Result, error) {
	handler, ok := e.graph.Handler(node)
	if !ok {
		return nil, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("checkpoint points at unknown node %q", node))
	}

	nodeCtx := ctx
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	nodeCtx, span := e.tracer.Start(nodeCtx, "engine.step",
		trace.WithAttributes(
			attribute.String("workflow.thread_id", run.threadID),
			attribute.String("workflow.node", node),
		))
	defer span.End()

	start := time.Now()
	result, err := handler(nodeCtx, st.Clone(), run.sink)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.collector.RecordNodeExecution(node, "error", duration)

		var typed *types.Error
		if errors.As(err, &typed) {
			return nil, typed.WithNode(node)
		}
		return nil, types.NewError(types.ErrCapabilityFailed, "node handler failed").
			WithCause(err).WithNode(node)
	}
	if result == nil {
		e.collector.RecordNodeExecution(node, "error", duration)
		return nil, types.NewError(types.ErrValidationFailed, "node handler returned no result").
			WithNode(node)
	}

	e.collector.RecordNodeExecution(node, "ok", duration)
	return result, nil
}

// route picks the next node. Fixed edges ignore the handler's route
// key. For conditional edges an undeclared key falls back to the
// edge's default target rather than failing the run.
func (e *Engine) route(node, key string, logger *zap.Logger) (string, error) {
	edge, ok := e.graph.EdgeFrom(node)
	if !ok {
		return "", types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("node %q has no outgoing edge", node)).WithNode(node)
	}
	if !edge.Conditional() {
		return edge.Fixed(), nil
	}

	target, declared := edge.Resolve(key)
	if declared {
		return target, nil
	}

	e.collector.RecordRoutingFallback(node)
	logger.Warn("route key not declared, using default target",
		zap.String("node", node),
		zap.String("route_key", key),
		zap.String("default", edge.Default()))
	return edge.Default(), nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := e.store.Save(ctx, cp); err != nil {
		e.collector.RecordCheckpointSave("error")
		var typed *types.Error
		if errors.As(err, &typed) {
			return typed
		}
		return types.NewError(types.ErrPersistence, "saving checkpoint").WithCause(err)
	}
	e.collector.RecordCheckpointSave("ok")
	return nil
}

// verifyAuthority confirms the store's latest checkpoint still matches
// the sequence number this run was started from. Must be called with
// the thread lock held.
func (e *Engine) verifyAuthority(ctx context.Context, threadID string, seq uint64) error {
	latest, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		if seq != 0 {
			return types.NewError(types.ErrSequenceConflict,
				fmt.Sprintf("thread %q: checkpoint log gone, run started from seq %d", threadID, seq))
		}
		return nil
	}
	if err != nil {
		return types.NewError(types.ErrPersistence, "loading thread").WithCause(err)
	}
	if seq == 0 {
		return types.NewError(types.ErrThreadExists,
			fmt.Sprintf("thread %q already has checkpoints", threadID))
	}
	if latest.Seq != seq {
		return types.NewError(types.ErrSequenceConflict,
			fmt.Sprintf("thread %q: log advanced to seq %d, run started from seq %d", threadID, latest.Seq, seq))
	}
	return nil
}

// threadLock returns the mutex serializing execution for one thread.
func (e *Engine) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[threadID] = lock
	}
	return lock
}
