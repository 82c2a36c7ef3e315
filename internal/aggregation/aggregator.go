package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	core "github.com/aevon-lab/eventsim/internal/core/aggregation"
	"github.com/aevon-lab/eventsim/internal/core/partition"
	"github.com/aevon-lab/eventsim/internal/core/storage"
	"github.com/aevon-lab/eventsim/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// ErrAggregatorClosed is returned for actions submitted to, or still queued in, an
// aggregator that is shutting down.
var ErrAggregatorClosed = errors.New("aggregator closed")

const (
	defaultWorkerCount = 8
	defaultQueueSize   = 1024
)

// RetryPolicy bounds the exponential backoff around durable commits.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed of zero retries until the caller's context ends or the aggregator stops.
	MaxElapsed time.Duration
}

// Options controls worker fan-out and commit retries.
type Options struct {
	WorkerCount int
	QueueSize   int
	Retry       RetryPolicy
}

func (o Options) normalized() Options {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.QueueSize <= 0 {
		n.QueueSize = defaultQueueSize
	}
	if n.Retry.InitialInterval <= 0 {
		n.Retry.InitialInterval = 100 * time.Millisecond
	}
	if n.Retry.MaxInterval <= 0 {
		n.Retry.MaxInterval = 5 * time.Second
	}
	return n
}

// Result is the outcome of one submitted action.
type Result struct {
	// Applied is false when the action did not raise the user's weight on the event.
	Applied bool
	// Similarities are the records written and emitted by an applied update.
	Similarities []v1.EventSimilarity
}

type reply struct {
	result Result
	err    error
}

type job struct {
	ctx    context.Context
	action v1.UserAction
	weight decimal.Decimal
	reply  chan reply
}

// worker owns the per-user weights of every user routed to it.
// mu is only contended by Snapshot; it is held for the whole of an update.
type worker struct {
	id    int
	jobs  chan job
	mu    sync.Mutex
	users map[int64]map[int64]decimal.Decimal
}

// Aggregator maintains S and M incrementally and persists every update before
// applying it to memory. Users are sharded across workers so updates for one user
// are serialised; event aggregates are guarded by per-partition locks.
type Aggregator struct {
	store   storage.UpdateWriter
	opts    Options
	shared  *core.SharedState
	workers []*worker

	startOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// New creates an aggregator. Workers start when Run is called.
func New(store storage.UpdateWriter, opts Options) *Aggregator {
	opts = opts.normalized()
	a := &Aggregator{
		store:   store,
		opts:    opts,
		shared:  core.NewSharedState(),
		workers: make([]*worker, opts.WorkerCount),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range a.workers {
		a.workers[i] = &worker{
			id:    i,
			jobs:  make(chan job, opts.QueueSize),
			users: make(map[int64]map[int64]decimal.Decimal),
		}
	}
	return a
}

// Bootstrap rebuilds in-memory state from the durable interaction table.
// It must run before Run.
func (a *Aggregator) Bootstrap(ctx context.Context, store storage.InteractionStore) error {
	interactions, err := store.LoadInteractions(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: load interactions: %w", err)
	}

	snap := core.Fold(interactions)
	for _, w := range a.workers {
		w.mu.Lock()
		w.users = make(map[int64]map[int64]decimal.Decimal)
		w.mu.Unlock()
	}
	for user, events := range snap.Weights {
		w := a.workerFor(user)
		w.mu.Lock()
		w.users[user] = events
		w.mu.Unlock()
	}
	a.shared.Load(snap)

	slog.Info("[Aggregator] Bootstrapped from durable interactions",
		"interactions", len(interactions),
		"users", len(snap.Weights),
		"events", len(snap.Sums),
		"pairs", len(snap.PairSums))
	return nil
}

func (a *Aggregator) workerFor(userID int64) *worker {
	return a.workers[partition.Of(userID, len(a.workers))]
}

// Run starts the workers and blocks until ctx is cancelled. An in-flight commit is
// aborted without touching memory; it and every queued action are answered with
// ErrAggregatorClosed.
func (a *Aggregator) Run(ctx context.Context) error {
	started := false
	a.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("aggregator already started")
	}

	slog.Info("[Aggregator] Starting workers",
		"workers", a.opts.WorkerCount,
		"queue_size", a.opts.QueueSize)

	var wg sync.WaitGroup
	wg.Add(len(a.workers))
	for _, w := range a.workers {
		go func(w *worker) {
			defer wg.Done()
			a.runWorker(w)
		}(w)
	}

	<-ctx.Done()
	slog.Info("[Aggregator] Stopping (context cancelled)")
	close(a.closing)
	wg.Wait()
	close(a.done)
	slog.Info("[Aggregator] All workers stopped")
	return nil
}

func (a *Aggregator) runWorker(w *worker) {
	for {
		select {
		case <-a.closing:
			a.drain(w)
			return
		case j := <-w.jobs:
			metrics.QueueDepth.Dec()
			select {
			case <-a.closing:
				a.reject(j)
				a.drain(w)
				return
			default:
			}
			res, err := a.process(w, j)
			j.reply <- reply{result: res, err: err}
		}
	}
}

// drain answers every queued job without processing it.
func (a *Aggregator) drain(w *worker) {
	for {
		select {
		case j := <-w.jobs:
			metrics.QueueDepth.Dec()
			a.reject(j)
		default:
			return
		}
	}
}

func (a *Aggregator) reject(j job) {
	metrics.ActionsProcessed.WithLabelValues(metrics.ResultClosed).Inc()
	j.reply <- reply{err: ErrAggregatorClosed}
}

// Submit validates an action and hands it to the worker owning its user. It blocks
// until the update is applied, skipped or failed, or until ctx is done.
func (a *Aggregator) Submit(ctx context.Context, action v1.UserAction) (Result, error) {
	if err := action.Validate(); err != nil {
		metrics.ActionsProcessed.WithLabelValues(metrics.ResultInvalid).Inc()
		return Result{}, err
	}
	weight, err := core.WeightOf(action.ActionType)
	if err != nil {
		metrics.ActionsProcessed.WithLabelValues(metrics.ResultInvalid).Inc()
		return Result{}, err
	}

	select {
	case <-a.closing:
		return Result{}, ErrAggregatorClosed
	default:
	}

	j := job{ctx: ctx, action: action, weight: weight, reply: make(chan reply, 1)}
	w := a.workerFor(action.UserID)

	select {
	case w.jobs <- j:
		metrics.QueueDepth.Inc()
	case <-a.closing:
		return Result{}, ErrAggregatorClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-a.done:
		// Workers reply before exiting, so a reply may already be buffered.
		select {
		case r := <-j.reply:
			return r.result, r.err
		default:
			return Result{}, ErrAggregatorClosed
		}
	}
}

func (a *Aggregator) process(w *worker, j job) (Result, error) {
	if err := j.ctx.Err(); err != nil {
		return Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	userID, eventID := j.action.UserID, j.action.EventID
	weights, known := w.users[userID]
	if !known {
		weights = make(map[int64]decimal.Decimal)
	}

	view := a.shared.Lock(append(core.OtherEvents(weights, eventID), eventID)...)
	defer view.Unlock()

	upd, changed := core.Plan(view, weights, userID, eventID, j.weight, j.action.Timestamp)
	if !changed {
		metrics.ActionsProcessed.WithLabelValues(metrics.ResultSkipped).Inc()
		slog.Debug("[Aggregator] Skipped non-upgrading action",
			"user_id", userID,
			"event_id", eventID,
			"action_type", j.action.ActionType)
		return Result{}, nil
	}

	commitCtx, cancel := a.commitContext(j.ctx)
	defer cancel()
	if err := a.commit(commitCtx, upd); err != nil {
		if errors.Is(context.Cause(commitCtx), ErrAggregatorClosed) {
			metrics.ActionsProcessed.WithLabelValues(metrics.ResultClosed).Inc()
			slog.Warn("[Aggregator] Commit aborted by shutdown, state not advanced",
				"user_id", userID,
				"event_id", eventID)
			return Result{}, fmt.Errorf("commit update for user %d event %d: %w", userID, eventID, ErrAggregatorClosed)
		}
		metrics.ActionsProcessed.WithLabelValues(metrics.ResultFailed).Inc()
		slog.Error("[Aggregator] Durable commit failed, state not advanced",
			"user_id", userID,
			"event_id", eventID,
			"error", err)
		return Result{}, fmt.Errorf("commit update for user %d event %d: %w", userID, eventID, err)
	}

	upd.Apply(view, weights)
	if !known {
		w.users[userID] = weights
	}

	metrics.ActionsProcessed.WithLabelValues(metrics.ResultApplied).Inc()
	metrics.SimilaritiesEmitted.Add(float64(len(upd.Similarities)))
	slog.Debug("[Aggregator] Applied update",
		"user_id", userID,
		"event_id", eventID,
		"old_weight", upd.OldWeight.String(),
		"new_weight", j.weight.String(),
		"similarities", len(upd.Similarities))

	return Result{Applied: true, Similarities: upd.Similarities}, nil
}

// commitContext derives a context from the submitter's that is also cancelled, with
// cause ErrAggregatorClosed, once the aggregator starts shutting down.
func (a *Aggregator) commitContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-a.closing:
			cancel(ErrAggregatorClosed)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// commit writes the update durably, retrying transient failures with exponential
// backoff until the policy or ctx gives up.
func (a *Aggregator) commit(ctx context.Context, upd core.Update) error {
	start := time.Now()
	defer func() { metrics.CommitLatency.Observe(time.Since(start).Seconds()) }()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.opts.Retry.InitialInterval
	policy.MaxInterval = a.opts.Retry.MaxInterval
	policy.MaxElapsedTime = a.opts.Retry.MaxElapsed

	operation := func() error {
		err := a.store.CommitUpdate(ctx, upd.Interaction, upd.Similarities)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.CommitRetries.Inc()
		slog.Warn("[Aggregator] Commit failed, retrying",
			"user_id", upd.Interaction.UserID,
			"event_id", upd.Interaction.EventID,
			"retry_in", wait,
			"error", err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

// Stats is a cheap summary of the in-memory state.
type Stats struct {
	Users  int
	Events int
	Pairs  int
}

// Stats counts users, events and pairs without copying any state.
func (a *Aggregator) Stats() Stats {
	var st Stats
	for _, w := range a.workers {
		w.mu.Lock()
		st.Users += len(w.users)
		w.mu.Unlock()
	}
	st.Events, st.Pairs = a.shared.Counts()
	return st
}

// Snapshot copies the running state. It waits for in-flight updates to finish and
// blocks new ones while copying.
func (a *Aggregator) Snapshot() core.Snapshot {
	for _, w := range a.workers {
		w.mu.Lock()
	}
	defer func() {
		for i := len(a.workers) - 1; i >= 0; i-- {
			a.workers[i].mu.Unlock()
		}
	}()

	snap := core.NewSnapshot()
	for _, w := range a.workers {
		for user, events := range w.users {
			copied := make(map[int64]decimal.Decimal, len(events))
			for event, weight := range events {
				copied[event] = weight
			}
			snap.Weights[user] = copied
		}
	}
	a.shared.Export(&snap)
	return snap
}
