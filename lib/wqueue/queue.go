package wqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("wqueue")

const (
	DefaultMinDelay     = 2 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	// MinDelay is the minimum time between the completion of one operation and the start of the next
	MinDelay time.Duration
	// MaxRetries bounds the in-place retries of a transient failure, negative disables retries
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number before each retry
	RetryBackoff time.Duration
	// Metrics receives the queue metrics, a private set is used if nil
	Metrics *metrics.Set
}

// pending is an operation together with the future of its caller
type pending struct {
	ctx    context.Context
	op     Operation
	future *Future
}

// Queue turns concurrent mutations into one ordered, rate limited, retrying stream.
// A single worker executes operations strictly in submission order.
type Queue struct {
	opts  Options
	exec  Executor
	items *util.LockFreeMPSC[pending]

	// mu guards closed, so no push can slip in after the final drain
	mu     sync.Mutex
	closed bool
	done   chan struct{}

	// lastDone is only touched by the worker
	lastDone time.Time

	set *metrics.Set
}

// New creates a queue and starts its worker
func New(exec Executor, opts Options) *Queue {
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	} else if opts.MinDelay == 0 {
		opts.MinDelay = DefaultMinDelay
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	set := opts.Metrics
	if set == nil {
		set = metrics.NewSet()
	}

	q := &Queue{
		opts:  opts,
		exec:  exec,
		items: util.NewLockFreeMPSC[pending](),
		done:  make(chan struct{}),
		set:   set,
	}
	set.GetOrCreateGauge("ghostmesh_wqueue_depth", func() float64 {
		return float64(q.items.Len())
	})

	go q.run()
	return q
}

// Metrics returns the set the queue reports to
func (q *Queue) Metrics() *metrics.Set {
	return q.set
}

// Len returns the number of operations waiting for the worker
func (q *Queue) Len() int {
	return q.items.Len()
}

// Enqueue appends op and returns immediately. The future resolves once op succeeded
// or failed terminally. ctx is passed to the executor without its cancellation, so a
// queued operation always runs. After Close the future resolves with a StoreError.
func (q *Queue) Enqueue(ctx context.Context, op Operation) *Future {
	f := newFuture()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || !q.items.Push(&pending{ctx: context.WithoutCancel(ctx), op: op, future: f}) {
		f.resolve(Result{}, store.NewError(store.RetCStore, "queue closed"))
		return f
	}
	q.counter("enqueued", op.Kind).Inc()
	Logger.Debugf("enqueued %s (depth %d)", op, q.items.Len())
	return f
}

// Close stops accepting operations and waits until all queued operations are terminal
// or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.items.Close()
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write queue not drained: %w", ctx.Err())
	}
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

func (q *Queue) run() {
	defer close(q.done)

	for p := range q.items.Recv() {
		if !q.lastDone.IsZero() {
			if wait := q.opts.MinDelay - time.Since(q.lastDone); wait > 0 {
				time.Sleep(wait)
			}
		}

		res, err := q.execute(p.ctx, p.op)
		q.lastDone = time.Now()
		p.future.resolve(res, err)
	}
}

// execute runs op, retrying transient failures in place
func (q *Queue) execute(ctx context.Context, op Operation) (Result, error) {
	start := time.Now()
	defer func() {
		q.set.GetOrCreateHistogram(fmt.Sprintf(`ghostmesh_wqueue_duration_seconds{kind=%q}`, op.Kind.String())).UpdateDuration(start)
	}()

	for attempt := 1; ; attempt++ {
		res, err := q.exec.Execute(ctx, op)
		if err == nil {
			q.counter("completed", op.Kind).Inc()
			if attempt > 1 {
				Logger.Infof("%s succeeded after %d attempts", op, attempt)
			}
			return res, nil
		}

		if attempt > q.opts.MaxRetries || !op.Kind.Retryable(err) {
			q.counter("failed", op.Kind).Inc()
			Logger.Errorf("%s failed after %d attempt(s): %v", op, attempt, err)
			return Result{}, err
		}

		backoff := time.Duration(attempt) * q.opts.RetryBackoff
		q.counter("retries", op.Kind).Inc()
		Logger.Warningf("%s hit a transient error (attempt %d/%d), retrying in %s: %v",
			op, attempt, q.opts.MaxRetries+1, backoff, err)
		time.Sleep(backoff)
	}
}

func (q *Queue) counter(name string, kind Kind) *metrics.Counter {
	return q.set.GetOrCreateCounter(fmt.Sprintf(`ghostmesh_wqueue_%s_total{kind=%q}`, name, kind.String()))
}
