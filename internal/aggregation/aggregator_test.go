package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	core "github.com/aevon-lab/eventsim/internal/core/aggregation"
	"github.com/aevon-lab/eventsim/internal/core/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTS = time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)

func act(user, event int64, kind v1.ActionType) v1.UserAction {
	return v1.UserAction{UserID: user, EventID: event, ActionType: kind, Timestamp: baseTS}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: 20 * time.Millisecond}
}

// startAggregator runs an aggregator until the test ends.
func startAggregator(t *testing.T, store *memory.Store, opts Options) *Aggregator {
	t.Helper()
	agg := New(store, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return agg
}

func submitAll(t *testing.T, agg *Aggregator, actions ...v1.UserAction) []Result {
	t.Helper()
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		res, err := agg.Submit(context.Background(), a)
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func TestAggregator_ViewLikeThenViewOtherEvent(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 2})

	results := submitAll(t, agg,
		act(1, 10, v1.ActionView),
		act(1, 10, v1.ActionLike),
		act(1, 20, v1.ActionView),
	)

	snap := agg.Snapshot()
	require.True(t, snap.Sums[10].Equal(decimal.RequireFromString("1.0")))
	require.True(t, snap.Sums[20].Equal(decimal.RequireFromString("0.4")))
	require.True(t, snap.PairSums[core.PairKey{A: 10, B: 20}].Equal(decimal.RequireFromString("0.4")))

	last := results[2]
	require.True(t, last.Applied)
	require.Len(t, last.Similarities, 1)
	sim := last.Similarities[0]
	require.Equal(t, int64(10), sim.EventA)
	require.Equal(t, int64(20), sim.EventB)
	require.InDelta(t, 0.4/math.Sqrt(0.4), sim.Score, 1e-9)
}

func TestAggregator_TwoUsersLikeBothEvents(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 4})

	results := submitAll(t, agg,
		act(1, 1, v1.ActionLike),
		act(1, 2, v1.ActionLike),
		act(2, 1, v1.ActionLike),
		act(2, 2, v1.ActionLike),
	)

	snap := agg.Snapshot()
	two := decimal.RequireFromString("2.0")
	require.True(t, snap.Sums[1].Equal(two))
	require.True(t, snap.Sums[2].Equal(two))
	require.True(t, snap.PairSums[core.PairKey{A: 1, B: 2}].Equal(two))

	final := results[3].Similarities
	require.Len(t, final, 1)
	require.InDelta(t, 1.0, final[0].Score, 1e-12)
}

func TestAggregator_WeakerActionIsSkipped(t *testing.T) {
	store := memory.NewStore()
	agg := startAggregator(t, store, Options{WorkerCount: 1})

	submitAll(t, agg, act(1, 1, v1.ActionLike), act(1, 2, v1.ActionLike))
	before := agg.Snapshot()
	commits := store.Commits()

	res, err := agg.Submit(context.Background(), act(1, 1, v1.ActionView))
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Empty(t, res.Similarities)
	require.Equal(t, commits, store.Commits())
	require.True(t, before.Equal(agg.Snapshot()))
}

func TestAggregator_RedeliveryIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	agg := startAggregator(t, store, Options{WorkerCount: 2})

	a := act(5, 50, v1.ActionRegister)
	first := submitAll(t, agg, a)[0]
	require.True(t, first.Applied)
	snap := agg.Snapshot()

	for i := 0; i < 3; i++ {
		res, err := agg.Submit(context.Background(), a)
		require.NoError(t, err)
		require.False(t, res.Applied)
	}
	require.True(t, snap.Equal(agg.Snapshot()))
	require.Equal(t, 1, store.Commits())
}

func TestAggregator_InvalidActionsNeverReachState(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 1})

	tests := []struct {
		name   string
		action v1.UserAction
	}{
		{name: "unknown kind", action: v1.UserAction{UserID: 1, EventID: 1, ActionType: "SHARE", Timestamp: baseTS}},
		{name: "zero user", action: v1.UserAction{EventID: 1, ActionType: v1.ActionLike, Timestamp: baseTS}},
		{name: "zero timestamp", action: v1.UserAction{UserID: 1, EventID: 1, ActionType: v1.ActionLike}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Submit(context.Background(), tt.action)
			require.ErrorIs(t, err, v1.ErrInvalidAction)
		})
	}
	require.True(t, core.NewSnapshot().Equal(agg.Snapshot()))
}

func TestAggregator_ScoresAreCanonicalAndBounded(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 3})
	rng := rand.New(rand.NewSource(7))
	kinds := []v1.ActionType{v1.ActionView, v1.ActionRegister, v1.ActionLike}

	for i := 0; i < 300; i++ {
		a := act(int64(rng.Intn(12)+1), int64(rng.Intn(15)+1), kinds[rng.Intn(len(kinds))])
		res, err := agg.Submit(context.Background(), a)
		require.NoError(t, err)
		for _, s := range res.Similarities {
			require.Less(t, s.EventA, s.EventB)
			require.GreaterOrEqual(t, s.Score, 0.0)
			require.LessOrEqual(t, s.Score, 1.0)
		}
	}
}

func TestAggregator_ConcurrentUsersMatchFold(t *testing.T) {
	store := memory.NewStore()
	agg := startAggregator(t, store, Options{WorkerCount: 4, QueueSize: 16})
	kinds := []v1.ActionType{v1.ActionView, v1.ActionRegister, v1.ActionLike}

	const users = 24
	var (
		mu  sync.Mutex
		all []v1.UserAction
		wg  sync.WaitGroup
	)
	for u := int64(1); u <= users; u++ {
		rng := rand.New(rand.NewSource(u))
		actions := make([]v1.UserAction, 40)
		for i := range actions {
			actions[i] = act(u, int64(rng.Intn(20)+1), kinds[rng.Intn(len(kinds))])
		}
		mu.Lock()
		all = append(all, actions...)
		mu.Unlock()

		wg.Add(1)
		go func(actions []v1.UserAction) {
			defer wg.Done()
			for _, a := range actions {
				_, err := agg.Submit(context.Background(), a)
				assert.NoError(t, err)
			}
		}(actions)
	}
	wg.Wait()

	want := core.FoldActions(all)
	require.True(t, want.Equal(agg.Snapshot()), "incremental state diverged from fold")

	durable, err := store.LoadInteractions(context.Background())
	require.NoError(t, err)
	require.True(t, want.Equal(core.Fold(durable)), "durable interactions diverged from fold")

	st := agg.Stats()
	require.Equal(t, len(want.Weights), st.Users)
	require.Equal(t, len(want.Sums), st.Events)
	require.Equal(t, len(want.PairSums), st.Pairs)
}

func TestAggregator_FailedCommitLeavesStateUntouched(t *testing.T) {
	store := memory.NewStore()
	agg := startAggregator(t, store, Options{WorkerCount: 1, Retry: fastRetry()})

	submitAll(t, agg, act(1, 1, v1.ActionView))
	before := agg.Snapshot()

	boom := errors.New("connection reset")
	store.FailCommits(math.MaxInt32, boom)

	_, err := agg.Submit(context.Background(), act(1, 2, v1.ActionLike))
	require.ErrorIs(t, err, boom)
	require.True(t, before.Equal(agg.Snapshot()))

	// A user seen for the first time must not be left behind either.
	_, err = agg.Submit(context.Background(), act(9, 2, v1.ActionLike))
	require.ErrorIs(t, err, boom)
	require.True(t, before.Equal(agg.Snapshot()))

	store.FailCommits(0, nil)
	res, err := agg.Submit(context.Background(), act(1, 2, v1.ActionLike))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 2, store.Commits())

	want := core.FoldActions([]v1.UserAction{act(1, 1, v1.ActionView), act(1, 2, v1.ActionLike)})
	require.True(t, want.Equal(agg.Snapshot()))
}

func TestAggregator_TransientCommitFailureIsRetried(t *testing.T) {
	store := memory.NewStore()
	agg := startAggregator(t, store, Options{WorkerCount: 1, Retry: RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      time.Second,
	}})

	store.FailCommits(2, errors.New("deadlock detected"))
	res, err := agg.Submit(context.Background(), act(1, 1, v1.ActionLike))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, store.Commits())
}

func TestAggregator_CancelledSubmitDoesNotAdvanceState(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := agg.Submit(ctx, act(1, 1, v1.ActionLike))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, core.NewSnapshot().Equal(agg.Snapshot()))
}

// blockingWriter holds every commit until release is closed.
type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) CommitUpdate(ctx context.Context, _ v1.Interaction, _ []v1.EventSimilarity) error {
	w.once.Do(func() { close(w.entered) })
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAggregator_ShutdownAbortsInFlightAndRejectsQueued(t *testing.T) {
	writer := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	agg := New(writer, Options{WorkerCount: 1, QueueSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- agg.Run(ctx) }()

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := agg.Submit(context.Background(), act(1, 1, v1.ActionLike))
		first <- outcome{res, err}
	}()
	<-writer.entered

	second := make(chan outcome, 1)
	go func() {
		res, err := agg.Submit(context.Background(), act(1, 2, v1.ActionLike))
		second <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return len(agg.workers[0].jobs) == 1 }, time.Second, time.Millisecond)

	cancel()

	inFlight := <-first
	require.ErrorIs(t, inFlight.err, ErrAggregatorClosed)
	require.False(t, inFlight.res.Applied)

	queued := <-second
	require.ErrorIs(t, queued.err, ErrAggregatorClosed)

	require.NoError(t, <-runDone)
	require.True(t, core.NewSnapshot().Equal(agg.Snapshot()))

	_, err := agg.Submit(context.Background(), act(2, 2, v1.ActionLike))
	require.ErrorIs(t, err, ErrAggregatorClosed)
}

// downWriter fails every commit and counts the attempts.
type downWriter struct {
	mu       sync.Mutex
	attempts int
}

func (w *downWriter) CommitUpdate(context.Context, v1.Interaction, []v1.EventSimilarity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	return errors.New("db down")
}

func (w *downWriter) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

func TestAggregator_ShutdownStopsUnboundedCommitRetry(t *testing.T) {
	writer := &downWriter{}
	agg := New(writer, Options{
		WorkerCount: 1,
		Retry:       RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- agg.Run(ctx) }()

	submitted := make(chan error, 1)
	go func() {
		_, err := agg.Submit(context.Background(), act(1, 1, v1.ActionLike))
		submitted <- err
	}()
	require.Eventually(t, func() bool { return writer.Attempts() >= 3 }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.ErrorIs(t, <-submitted, ErrAggregatorClosed)
	require.True(t, core.NewSnapshot().Equal(agg.Snapshot()))
}

func TestOptions_NormalizedDefaults(t *testing.T) {
	opts := Options{}.normalized()
	assert.Equal(t, defaultWorkerCount, opts.WorkerCount)
	assert.Equal(t, defaultQueueSize, opts.QueueSize)

	opts = Options{WorkerCount: 3, QueueSize: 7}.normalized()
	assert.Equal(t, 3, opts.WorkerCount)
	assert.Equal(t, 7, opts.QueueSize)
}

func TestAggregator_RunTwiceFails(t *testing.T) {
	agg := New(memory.NewStore(), Options{WorkerCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, agg.Run(ctx))
	require.Error(t, agg.Run(context.Background()))
}

func TestAggregator_BootstrapResumesFromDurableState(t *testing.T) {
	store := memory.NewStore()
	history := []v1.UserAction{
		act(1, 1, v1.ActionLike),
		act(1, 2, v1.ActionView),
		act(2, 2, v1.ActionRegister),
		act(2, 3, v1.ActionLike),
	}

	first := startAggregator(t, store, Options{WorkerCount: 2})
	submitAll(t, first, history...)

	restarted := New(store, Options{WorkerCount: 3})
	require.NoError(t, restarted.Bootstrap(context.Background(), store))
	require.True(t, first.Snapshot().Equal(restarted.Snapshot()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- restarted.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	next := act(1, 3, v1.ActionLike)
	res, err := restarted.Submit(context.Background(), next)
	require.NoError(t, err)
	require.True(t, res.Applied)

	want := core.FoldActions(append(history, next))
	require.True(t, want.Equal(restarted.Snapshot()))

	sims := want.Similarities()
	for _, s := range res.Similarities {
		key := core.PairKey{A: s.EventA, B: s.EventB}
		require.InDelta(t, sims[key], s.Score, 1e-12, fmt.Sprintf("pair %v", key))
	}
}

func TestAggregator_MonotonicRating(t *testing.T) {
	agg := startAggregator(t, memory.NewStore(), Options{WorkerCount: 1})

	sequence := []v1.ActionType{v1.ActionRegister, v1.ActionView, v1.ActionLike, v1.ActionRegister, v1.ActionView}
	var last decimal.Decimal
	for _, kind := range sequence {
		submitAll(t, agg, act(1, 1, kind))
		current := agg.Snapshot().Weights[1][1]
		require.True(t, current.GreaterThanOrEqual(last))
		last = current
	}
	require.True(t, last.Equal(decimal.RequireFromString("1.0")))
}
