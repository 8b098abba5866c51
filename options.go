package hive

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const DefaultResponseTimeout = 5 * time.Second

// WorkerStartHook runs after a worker completes its registration
// handshake.
type WorkerStartHook func(pool *Pool, peerID string)

// WorkerStopHook runs after a worker process exits, before any restart
// decision is made.
type WorkerStopHook func(pool *Pool, peerID string, exitCode int)

type config struct {
	id      string
	workers []string
	size    int

	restart         RestartPolicy
	responseTimeout time.Duration

	spawner Spawner

	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label

	onWorkerStart WorkerStartHook
	onWorkerStop  WorkerStopHook
}

func defaultConfig() config {
	return config{
		id:              DefaultControllerID,
		size:            1,
		restart:         DefaultRestartPolicy(),
		responseTimeout: DefaultResponseTimeout,
	}
}

// Option to pass to `Create`
type Option func(*config) error

// WithID specifies the controller's own peer id (default "main").
func WithID(id string) Option {
	return func(c *config) error {
		if !ValidatePeerID(id) {
			return ErrPeerIDInvalid
		}
		c.id = id
		return nil
	}
}

// WithWorker specifies the worker command to supervise. The command is
// whitespace-split: the first field is the binary, the rest are
// arguments.
func WithWorker(command string) Option {
	return func(c *config) error {
		if command == "" {
			return errors.New("empty worker command")
		}
		c.workers = append(c.workers, command)
		return nil
	}
}

// WithWorkers specifies several worker commands, one process each.
func WithWorkers(commands ...string) Option {
	return func(c *config) error {
		for _, command := range commands {
			if command == "" {
				return errors.New("empty worker command")
			}
		}
		c.workers = append(c.workers, commands...)
		return nil
	}
}

// WithSize controls how many replicas to launch when a single worker
// command is given.
func WithSize(size int) Option {
	return func(c *config) error {
		if size < 1 {
			return errors.New("size must be at least 1")
		}
		c.size = size
		return nil
	}
}

// WithAutoRestart replaces the restart policy. Zero fields fall back to
// their defaults; MaxAttempts 0 means unlimited.
func WithAutoRestart(policy RestartPolicy) Option {
	return func(c *config) error {
		c.restart = policy.withDefaults()
		return nil
	}
}

// WithoutAutoRestart disables relaunching of crashed workers.
func WithoutAutoRestart() Option {
	return func(c *config) error {
		c.restart.Enabled = false
		return nil
	}
}

// WithResponseTimeout controls how much time an awaited response may
// take before the call rejects (default 5s). A negative duration
// disables the timeout entirely.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.responseTimeout = timeout
		return nil
	}
}

// WithSpawner replaces the process-spawning collaborator. The default
// execs the worker command with its stdio pipes as the conduit.
func WithSpawner(sp Spawner) Option {
	return func(c *config) error {
		if sp == nil {
			return errors.New("nil spawner")
		}
		c.spawner = sp
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted
// by the pool.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// pool.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithWorkerStartHook registers a callback invoked after each
// successful registration handshake.
func WithWorkerStartHook(fn WorkerStartHook) Option {
	return func(c *config) error {
		c.onWorkerStart = fn
		return nil
	}
}

// WithWorkerStopHook registers a callback invoked on each worker
// process exit.
func WithWorkerStopHook(fn WorkerStopHook) Option {
	return func(c *config) error {
		c.onWorkerStop = fn
		return nil
	}
}
