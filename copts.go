package hive

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/raskyld/hive/pkg/wire"
)

type connectConfig struct {
	id string

	in  wire.RawReceiver
	out wire.RawSender

	responseTimeout time.Duration

	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

func defaultConnectConfig() connectConfig {
	return connectConfig{
		responseTimeout: DefaultResponseTimeout,
	}
}

// ConnectOption to pass to `Connect`
type ConnectOption func(*connectConfig) error

// ConnectWithID claims a specific peer id instead of a generated uuid.
// The controller ignores the registration when the id is already taken,
// so pick ids you control.
func ConnectWithID(id string) ConnectOption {
	return func(c *connectConfig) error {
		if !ValidatePeerID(id) {
			return ErrPeerIDInvalid
		}
		c.id = id
		return nil
	}
}

// ConnectWithConduit replaces the stdin/stdout conduit, mostly useful
// to run a worker in-process over a wire.Pipe.
func ConnectWithConduit(in wire.RawReceiver, out wire.RawSender) ConnectOption {
	return func(c *connectConfig) error {
		if in == nil || out == nil {
			return errors.New("nil conduit end")
		}
		c.in = in
		c.out = out
		return nil
	}
}

// ConnectWithResponseTimeout controls how much time an awaited response
// may take before the call rejects (default 5s). A negative duration
// disables the timeout entirely.
func ConnectWithResponseTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.responseTimeout = timeout
		return nil
	}
}

// ConnectWithLog specifies which `slog.Handler` to use.
//
// Workers sharing stdout with the conduit MUST NOT log there; point the
// handler at stderr or a file.
func ConnectWithLog(handler slog.Handler) ConnectOption {
	return func(c *connectConfig) error {
		c.logHandler = handler
		return nil
	}
}

// ConnectWithMetricSink allows you to chose how to collect the metrics
// emitted by the connector.
func ConnectWithMetricSink(ms metrics.MetricSink) ConnectOption {
	return func(c *connectConfig) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// ConnectWithMetricLabels adds static labels to all metrics produced by
// the connector.
func ConnectWithMetricLabels(labels []metrics.Label) ConnectOption {
	return func(c *connectConfig) error {
		c.metricLabels = labels
		return nil
	}
}
