package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// AuditStatus captures the outcome of an audited operation.
type AuditStatus string

const (
	// AuditStatusSuccess indicates the operation committed.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError indicates the operation was rejected or failed.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry records one mutating ledger call.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  uint64
	Caller    domain.Address
	Status    AuditStatus
	ErrorKind string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for mutating calls.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around a service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// LogAuditRecorder writes audit entries as structured log events.
type LogAuditRecorder struct {
	logger zerolog.Logger
}

// NewLogAuditRecorder returns a recorder that logs successes at info and
// failures at warn.
func NewLogAuditRecorder(logger zerolog.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{logger: logger.With().Str("component", "audit").Logger()}
}

// Record implements AuditRecorder.
func (r *LogAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	event := r.logger.Info()
	if entry.Status == AuditStatusError {
		event = r.logger.Warn().Str("error_kind", entry.ErrorKind).Str("error", entry.Error)
	}
	event.
		Str("op", entry.Operation).
		Str("entity", string(entry.Entity)).
		Str("action", string(entry.Action)).
		Uint64("entity_id", entry.EntityID).
		Str("caller", entry.Caller.String()).
		Str("status", string(entry.Status)).
		Dur("duration", entry.Duration).
		Time("at", entry.Timestamp).
		Msg("audit")
}
