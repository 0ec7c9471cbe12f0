package relay

import (
	"sync"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("relay")

// Phase is the connection state of the relay
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnected
	PhaseReconnecting
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Relay. Zero values select the defaults.
type Options struct {
	// BaseDelay and MaxDelay bound the exponential reconnect backoff
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// StopSettle is waited between stopping the old and starting the new subscription
	StopSettle time.Duration
	// DrainSettle is waited after resubscribing before suppression ends
	DrainSettle time.Duration
	// StartupSettle suppresses filter noise after the first subscribe
	StartupSettle time.Duration
	// Metrics receives the relay metrics, a private set is used if nil
	Metrics *metrics.Set
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// DefaultOptions returns the production timings
func DefaultOptions() Options {
	return Options{
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		StopSettle:    500 * time.Millisecond,
		DrainSettle:   5 * time.Second,
		StartupSettle: 3 * time.Second,
		Now:           time.Now,
	}
}

// Backoff returns min(base * 2^attempt, max)
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Relay keeps exactly one subscription to the store alive and turns its callbacks into
// normalized events. An expired filter starts one reconnect episode: the old
// subscription is stopped, a new one is installed after the backoff delay, and
// filter noise is suppressed until the new subscription has settled.
type Relay struct {
	src    store.IEventSource
	opts   Options
	events *util.LockFreeMPSC[Event]
	set    *metrics.Set

	// after schedules f, the returned func cancels it
	after func(d time.Duration, f func()) func() bool

	mu            sync.Mutex
	phase         Phase
	gen           uint64
	stop          store.StopFunc
	attempt       int
	inFlight      bool
	suppress      bool
	// healthyEarly records a healthy event of the new subscription during the drain settle
	healthyEarly  bool
	startupUntil  time.Time
	cancelPending func() bool
	closing       chan struct{}
}

// New creates a relay for src. Call Start to subscribe.
func New(src store.IEventSource, opts Options) *Relay {
	def := DefaultOptions()
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.StopSettle <= 0 {
		opts.StopSettle = def.StopSettle
	}
	if opts.DrainSettle <= 0 {
		opts.DrainSettle = def.DrainSettle
	}
	if opts.StartupSettle <= 0 {
		opts.StartupSettle = def.StartupSettle
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	set := opts.Metrics
	if set == nil {
		set = metrics.NewSet()
	}

	r := &Relay{
		src:     src,
		opts:    opts,
		events:  util.NewLockFreeMPSC[Event](),
		set:     set,
		closing: make(chan struct{}),
		after: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	set.GetOrCreateGauge("ghostmesh_relay_connected", func() float64 {
		if r.Active() {
			return 1
		}
		return 0
	})
	return r
}

// Events returns the channel of normalized events. It is closed after Close.
func (r *Relay) Events() <-chan *Event {
	return r.events.Recv()
}

// Metrics returns the set the relay reports to
func (r *Relay) Metrics() *metrics.Set {
	return r.set
}

// Phase returns the current phase
func (r *Relay) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Connected reports whether the relay is in PhaseConnected, i.e. it has seen a healthy
// event since the last filter expiry
func (r *Relay) Connected() bool {
	return r.Phase() == PhaseConnected
}

// Active reports whether the relay currently holds a subscription. A quiet store never
// produces the healthy event Connected waits for, so liveness reporting uses Active.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil && r.phase != PhaseStopped
}

// ShouldDemote reports whether a log line is expected filter noise: while a reconnect
// is in progress or during the startup window, "filter not found" lines are demoted.
// It matches common.DemoteFilter.
func (r *Relay) ShouldDemote(_ string, msg string) bool {
	r.mu.Lock()
	suppressing := r.suppress || r.opts.Now().Before(r.startupUntil)
	r.mu.Unlock()
	return suppressing && store.IsFilterExpiryText(msg)
}

// Start installs the first subscription. If it fails, the relay schedules a reconnect
// and keeps retrying, the error is returned for logging.
func (r *Relay) Start() error {
	r.mu.Lock()
	if r.phase != PhaseIdle {
		r.mu.Unlock()
		return store.Errorf(store.RetCConfiguration, "relay already %s", r.phase)
	}
	r.startupUntil = r.opts.Now().Add(r.opts.StartupSettle)
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	stop, err := r.src.SubscribeEntityEvents(r.handlers(gen))

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		Logger.Errorf("initial subscription failed: %v", err)
		r.phase = PhaseReconnecting
		r.inFlight = true
		r.suppress = true
		r.scheduleLocked()
		return err
	}
	if r.phase == PhaseStopped {
		_ = stop()
		return nil
	}
	r.stop = stop
	r.phase = PhaseConnected
	Logger.Infof("subscribed to entity events")
	return nil
}

// Close stops the subscription and any pending reconnect and closes the event channel
func (r *Relay) Close() {
	r.mu.Lock()
	if r.phase == PhaseStopped {
		r.mu.Unlock()
		return
	}
	r.phase = PhaseStopped
	close(r.closing)
	if r.cancelPending != nil {
		r.cancelPending()
	}
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()

	if stop != nil {
		if err := stop(); err != nil {
			Logger.Debugf("stopping subscription: %v", err)
		}
	}
	r.events.Close()
	Logger.Infof("relay stopped")
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

func (r *Relay) handlers(gen uint64) store.EventHandlers {
	onEntity := func(ev store.Event) { r.onEntity(gen, ev) }
	return store.EventHandlers{
		OnCreated:  onEntity,
		OnUpdated:  onEntity,
		OnDeleted:  onEntity,
		OnExtended: onEntity,
		OnError:    func(err error) { r.onError(gen, err) },
	}
}

// current reports whether gen is the live subscription
func (r *Relay) current(gen uint64) bool {
	return r.gen == gen && r.phase != PhaseStopped
}

func (r *Relay) onEntity(gen uint64, sev store.Event) {
	r.mu.Lock()
	if !r.current(gen) {
		r.mu.Unlock()
		return
	}
	r.attempt = 0
	if r.phase == PhaseReconnecting {
		if r.inFlight {
			r.healthyEarly = true
		} else {
			r.phase = PhaseConnected
			Logger.Infof("subscription healthy again")
		}
	}
	r.mu.Unlock()

	ev := &Event{
		Name:               nameOf(sev.Type),
		EntityKey:          sev.Key,
		NewExpirationBlock: sev.NewExpiresAt,
		Timestamp:          timestamp(r.opts.Now()),
	}
	if ev.Name == NameCreated || ev.Name == NameUpdated {
		e, err := r.src.GetEntity(sev.Key)
		if err != nil {
			Logger.Debugf("fetching details of %s: %v", sev.Key, err)
		} else {
			describe(ev, e)
		}
	}

	r.set.GetOrCreateCounter(`ghostmesh_relay_events_total{event="` + ev.Name + `"}`).Inc()
	r.events.Push(ev)
}

func (r *Relay) onError(gen uint64, err error) {
	if !store.IsFilterExpiry(err) {
		Logger.Errorf("subscription error: %v", err)
		r.set.GetOrCreateCounter(`ghostmesh_relay_events_total{event="error"}`).Inc()
		r.events.Push(&Event{Name: NameError, Err: err.Error(), Timestamp: timestamp(r.opts.Now())})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) || r.inFlight {
		return
	}
	Logger.Warningf("event filter expired, reconnecting")
	r.phase = PhaseReconnecting
	r.inFlight = true
	r.suppress = true
	r.scheduleLocked()
}

// --------------------------------------------------------------------------
// Reconnect
// --------------------------------------------------------------------------

// scheduleLocked arms the next reconnect. r.mu must be held.
func (r *Relay) scheduleLocked() {
	delay := Backoff(r.attempt, r.opts.BaseDelay, r.opts.MaxDelay)
	r.attempt++
	r.set.GetOrCreateCounter("ghostmesh_relay_reconnects_total").Inc()
	Logger.Infof("reconnecting in %s (attempt %d)", delay, r.attempt)
	r.cancelPending = r.after(delay, r.reconnect)
}

func (r *Relay) reconnect() {
	r.mu.Lock()
	if r.phase == PhaseStopped {
		r.mu.Unlock()
		return
	}
	old := r.stop
	r.stop = nil
	r.healthyEarly = false
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	if old != nil {
		if err := old(); err != nil {
			Logger.Debugf("stopping expired subscription: %v", err)
		}
	}
	if !r.sleep(r.opts.StopSettle) {
		return
	}

	stop, err := r.src.SubscribeEntityEvents(r.handlers(gen))
	if err != nil {
		Logger.Errorf("resubscribe failed: %v", err)
		r.mu.Lock()
		if r.phase != PhaseStopped {
			r.scheduleLocked()
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	if r.phase == PhaseStopped {
		r.mu.Unlock()
		_ = stop()
		return
	}
	r.stop = stop
	r.mu.Unlock()
	Logger.Infof("resubscribed, settling for %s", r.opts.DrainSettle)

	if !r.sleep(r.opts.DrainSettle) {
		return
	}
	r.mu.Lock()
	r.inFlight = false
	r.suppress = false
	if r.healthyEarly && r.phase == PhaseReconnecting {
		r.phase = PhaseConnected
		Logger.Infof("subscription healthy again")
	}
	r.healthyEarly = false
	r.mu.Unlock()
}

// sleep waits d and reports false if the relay was closed meanwhile
func (r *Relay) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.closing:
		return false
	}
}
