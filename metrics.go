package hive

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricMessageInCount        = []string{"hive", "message", "in", "count"}
	MetricMessageOutCount       = []string{"hive", "message", "out", "count"}
	MetricMessageDroppedCount   = []string{"hive", "message", "dropped", "count"}
	MetricRegisterConflictCount = []string{"hive", "register", "conflict", "count"}
	MetricBroadcastRelayCount   = []string{"hive", "broadcast", "relay", "count"}
	MetricCallTimeoutCount      = []string{"hive", "call", "timeout", "count"}
	MetricWorkerExitCount       = []string{"hive", "worker", "exit", "count"}
	MetricWorkerRestartCount    = []string{"hive", "worker", "restart", "count"}
	MetricWorkerGiveUpCount     = []string{"hive", "worker", "giveup", "count"}
)

type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelPeerID   TelemetryLabel = "peer_id"
	LabelKind     TelemetryLabel = "kind"
	LabelReason   TelemetryLabel = "reason"
	LabelWorker   TelemetryLabel = "worker"
	LabelExitCode TelemetryLabel = "exit_code"
	LabelDuration TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
