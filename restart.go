package hive

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBackoffInitial = 100 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Minute
	DefaultBackoffGrace   = 30 * time.Second
)

// RestartPolicy controls what happens when a worker process exits.
type RestartPolicy struct {
	// Enabled turns automatic relaunch on. Even when enabled, a worker
	// exiting with ExitCodeNoRestart is never relaunched.
	Enabled bool

	// BackoffInitial is the delay before the first relaunch.
	BackoffInitial time.Duration

	// BackoffMax caps the doubling delay between relaunches.
	BackoffMax time.Duration

	// BackoffGrace is how long a relaunched worker must stay alive
	// before its delay and attempt counter reset.
	BackoffGrace time.Duration

	// MaxAttempts bounds consecutive relaunches; -1 means unlimited.
	MaxAttempts int
}

// DefaultRestartPolicy relaunches forever: 100ms initial delay doubling
// up to 5 minutes, 30s grace, unlimited attempts.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:        true,
		BackoffInitial: DefaultBackoffInitial,
		BackoffMax:     DefaultBackoffMax,
		BackoffGrace:   DefaultBackoffGrace,
		MaxAttempts:    -1,
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = DefaultBackoffInitial
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = DefaultBackoffMax
	}
	if p.BackoffGrace <= 0 {
		p.BackoffGrace = DefaultBackoffGrace
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = -1
	}
	return p
}

// restartState carries one worker slot's backoff across relaunches: the
// process handle changes on every relaunch, the state persists until
// the supervisor gives up or the grace timer rewards sustained uptime.
//
// It is guarded by the owning Pool's lock.
type restartState struct {
	policy   RestartPolicy
	bo       *backoff.ExponentialBackOff
	attempts int

	relaunchTimer *time.Timer
	graceTimer    *time.Timer
}

func newRestartState(policy RestartPolicy) *restartState {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BackoffInitial
	bo.MaxInterval = policy.BackoffMax
	bo.Multiplier = 2
	// Exact doubling; jitter buys nothing for a single supervised child.
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &restartState{
		policy: policy,
		bo:     bo,
	}
}

// next consumes one attempt and returns the delay to wait before the
// upcoming relaunch. The stored delay doubles (capped at BackoffMax)
// for the next failure.
func (rs *restartState) next() time.Duration {
	rs.attempts++
	return rs.bo.NextBackOff()
}

// exhausted reports whether no further relaunch may be scheduled.
func (rs *restartState) exhausted() bool {
	return rs.policy.MaxAttempts >= 0 && rs.attempts >= rs.policy.MaxAttempts
}

// rewardUptime resets delay and attempt counter after the worker stayed
// alive past the grace period.
func (rs *restartState) rewardUptime() {
	rs.attempts = 0
	rs.bo.Reset()
}

func (rs *restartState) stopTimers() {
	if rs.relaunchTimer != nil {
		rs.relaunchTimer.Stop()
	}
	if rs.graceTimer != nil {
		rs.graceTimer.Stop()
	}
}
