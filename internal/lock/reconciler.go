package lock

import (
	"context"
	"time"
)

// Command names used in logs and metrics.
const (
	CommandLock    = "lock"
	CommandUnlock  = "unlock"
	CommandOpen    = "open"
	CommandLockNGo = "lock_n_go"
)

// refreshLevels is the order of sub-requests in one refresh round: the
// bridge's cached lock list (false) first, then the lock's own state (true).
var refreshLevels = [2]bool{false, true}

// Handle is one physical lock as exposed by the bridge client.
//
// Update refreshes the handle's live fields; level selects the bridge's cached
// list (false) or a direct query to the lock (true). Lock and Unlock return a
// nil result when the bridge gave no usable answer.
type Handle interface {
	NukiID() int
	Name() string
	State() int
	BatteryCritical() bool
	IsLocked() bool

	Update(ctx context.Context, level bool) error
	Lock(ctx context.Context, blocking bool) (*CommandResult, error)
	Unlock(ctx context.Context, blocking bool) (*CommandResult, error)
	Unlatch(ctx context.Context) error
	LockNGo(ctx context.Context, unlatch bool) error
}

// CommandResult is the bridge's answer to a lock action.
type CommandResult struct {
	Success         bool
	BatteryCritical bool
}

// Logger is the logging capability used by the Reconciler.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Snapshot is the cached view of one lock.
type Snapshot struct {
	NukiID          int       `json:"nuki_id"`
	Name            string    `json:"name"`
	Locked          bool      `json:"is_locked"`
	BatteryCritical bool      `json:"battery_critical"`
	Available       bool      `json:"available"`
	LastRefresh     time.Time `json:"last_refresh"`
}

// Options configures a Reconciler.
type Options struct {
	// Policy holds retry counts, staleness and error codes.
	// Zero fields take the defaults.
	Policy Policy

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Logger receives refresh and command warnings. Optional.
	Logger Logger

	// Metrics records refresh and command outcomes. Optional.
	Metrics *Metrics
}

// Reconciler owns the cached Snapshot of one lock and decides when the bridge
// must be asked again.
type Reconciler struct {
	handle  Handle
	policy  Policy
	now     func() time.Time
	logger  Logger
	metrics *Metrics

	snap Snapshot
}

// New creates a Reconciler seeded from the handle's current fields.
// LastRefresh starts at the zero time, so the first Update always refreshes.
func New(h Handle, opts Options) *Reconciler {
	policy := opts.Policy.withDefaults()

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	r := &Reconciler{
		handle:  h,
		policy:  policy,
		now:     clock,
		logger:  logger,
		metrics: opts.Metrics,
		snap: Snapshot{
			NukiID:          h.NukiID(),
			Name:            h.Name(),
			Locked:          h.IsLocked(),
			BatteryCritical: h.BatteryCritical(),
			Available:       !policy.IsErrorState(h.State()),
		},
	}
	r.metrics.observeAvailability(r.snap)

	return r
}

// Snapshot returns a copy of the cached state.
func (r *Reconciler) Snapshot() Snapshot {
	return r.snap
}

// Available reports whether the cached state can be trusted.
func (r *Reconciler) Available() bool {
	return r.snap.Available
}

// IsLocked returns the cached lock state. It is only current while Available.
func (r *Reconciler) IsLocked() bool {
	return r.snap.Locked
}

// Policy returns the effective policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Update is the periodic poll entry point.
func (r *Reconciler) Update(ctx context.Context) Snapshot {
	return r.RefreshIfStale(ctx, r.now())
}

// RefreshIfStale refreshes from the bridge when the lock is unavailable or the
// snapshot is older than Policy.StaleAfter. Otherwise no request is made.
func (r *Reconciler) RefreshIfStale(ctx context.Context, now time.Time) Snapshot {
	if r.snap.Available && now.Sub(r.snap.LastRefresh) <= r.policy.StaleAfter {
		r.metrics.observeCacheHit()
		return r.snap
	}

	r.refresh(ctx, now)
	r.metrics.observeAvailability(r.snap)
	return r.snap
}

// refresh runs up to RefreshAttempts rounds of list+state sub-requests and
// returns as soon as one sub-request yields a non-error status.
func (r *Reconciler) refresh(ctx context.Context, now time.Time) {
	r.metrics.observeRefresh()

	for attempt := 1; attempt <= r.policy.RefreshAttempts; attempt++ {
		for _, level := range refreshLevels {
			if ctx.Err() != nil {
				r.logger.Debug("nuki refresh interrupted",
					"nuki_id", r.snap.NukiID,
					"error", ctx.Err())
				return
			}

			if err := r.handle.Update(ctx, level); err != nil {
				r.logger.Warn("error updating nuki lock",
					"name", r.snap.Name,
					"nuki_id", r.snap.NukiID,
					"level", levelName(level),
					"attempt", attempt,
					"error", err)
				r.snap.Available = false
				r.metrics.observeSubRequest(level, outcomeError)
				continue
			}

			// An error state forces another sub-request instead of trusting it.
			r.snap.Available = !r.policy.IsErrorState(r.handle.State())
			if !r.snap.Available {
				r.metrics.observeSubRequest(level, outcomeErrorState)
				continue
			}

			r.metrics.observeSubRequest(level, outcomeOK)
			r.markFresh(now)
			r.snap.Name = r.handle.Name()
			r.snap.BatteryCritical = r.handle.BatteryCritical()
			r.snap.Locked = r.handle.IsLocked()
			break
		}

		if r.snap.Available {
			return
		}
	}
}

// Lock locks the door with a blocking request, retrying on failure.
func (r *Reconciler) Lock(ctx context.Context) Snapshot {
	return r.command(ctx, CommandLock, r.handle.Lock, true)
}

// Unlock unlocks the door with a blocking request, retrying on failure.
func (r *Reconciler) Unlock(ctx context.Context) Snapshot {
	return r.command(ctx, CommandUnlock, r.handle.Unlock, false)
}

// command runs a blocking lock action up to CommandAttempts times. Success is
// judged on the command response alone. If no attempt succeeds the lock is
// marked unavailable and a full refresh follows. The deadline bounds the
// command attempts only, not the recovery refresh.
func (r *Reconciler) command(
	ctx context.Context,
	name string,
	do func(context.Context, bool) (*CommandResult, error),
	locked bool,
) Snapshot {
	cmdCtx := ctx
	if r.policy.CommandDeadline > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, r.policy.CommandDeadline)
		defer cancel()
	}

	for attempt := 1; attempt <= r.policy.CommandAttempts; attempt++ {
		if cmdCtx.Err() != nil {
			break
		}

		result, err := do(cmdCtx, true)
		if err != nil || result == nil || !result.Success {
			r.logger.Debug("nuki command attempt failed",
				"command", name,
				"nuki_id", r.snap.NukiID,
				"attempt", attempt,
				"error", err)
			r.metrics.observeCommand(name, outcomeError)
			continue
		}

		r.metrics.observeCommand(name, outcomeOK)
		r.snap.Available = true
		r.snap.Locked = locked
		r.snap.BatteryCritical = result.BatteryCritical
		r.markFresh(r.now())
		r.metrics.observeAvailability(r.snap)
		return r.snap
	}

	r.logger.Warn("nuki command failed, forcing refresh",
		"command", name,
		"name", r.snap.Name,
		"nuki_id", r.snap.NukiID,
		"attempts", r.policy.CommandAttempts)

	r.snap.Available = false
	return r.RefreshIfStale(ctx, r.now())
}

// Open unlatches the door. No retry and no state change.
func (r *Reconciler) Open(ctx context.Context) error {
	err := r.handle.Unlatch(ctx)
	r.metrics.observeCommand(CommandOpen, outcomeOf(err))
	return err
}

// LockNGo unlocks, waits the device-configured interval and relocks,
// optionally unlatching first. No retry and no state change.
func (r *Reconciler) LockNGo(ctx context.Context, unlatch bool) error {
	err := r.handle.LockNGo(ctx, unlatch)
	r.metrics.observeCommand(CommandLockNGo, outcomeOf(err))
	return err
}

// markFresh advances LastRefresh; it never moves backwards.
func (r *Reconciler) markFresh(t time.Time) {
	if t.After(r.snap.LastRefresh) {
		r.snap.LastRefresh = t
	}
}

// levelName labels a refresh level for logs and metrics.
func levelName(level bool) string {
	if level {
		return "lock_state"
	}
	return "list"
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
