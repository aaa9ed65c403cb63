package audit

import (
	"context"
	"encoding/json"
	"time"

	domainaudit "watchtower/internal/domain/audit"
	"watchtower/internal/metrics"
	"watchtower/pkg/logger"
)

const appendTimeout = 5 * time.Second

// Sink is one destination for the append-only audit trail
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Append writes one entry and returns its id.
	// A single attempt; the recorder never retries.
	Append(ctx context.Context, tag string, payload []byte) (string, error)
}

// Recorder serializes audit events and fans them out to every
// configured sink. Delivery is best-effort: a broken audit channel
// must never stop liquidation monitoring or remediation, so Record
// has no error return at all.
type Recorder struct {
	sinks []Sink
	log   *logger.Logger
}

// NewRecorder creates a recorder over the given sinks
func NewRecorder(log *logger.Logger, sinks ...Sink) *Recorder {
	return &Recorder{
		sinks: sinks,
		log:   log.With("component", "audit_recorder"),
	}
}

// Record stamps, serializes, and appends one audit event.
// Sink failures are logged and counted, nothing more.
func (r *Recorder) Record(ctx context.Context, kind domainaudit.Kind, payload domainaudit.Payload) {
	event := domainaudit.NewEvent(kind, payload)

	data, err := json.Marshal(event)
	if err != nil {
		r.log.Errorw("Failed to serialize audit event",
			"kind", kind,
			"borrower", payload.Borrower,
			"error", err,
		)
		return
	}

	// Detach from the caller's context so remediation cancellation
	// does not drop the trailing audit write.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	for _, sink := range r.sinks {
		id, err := sink.Append(appendCtx, string(kind), data)
		if err != nil {
			metrics.AuditAppends.WithLabelValues(sink.Name(), "error").Inc()
			r.log.Errorw("Audit append failed",
				"sink", sink.Name(),
				"kind", kind,
				"borrower", payload.Borrower,
				"error", err,
			)
			continue
		}

		metrics.AuditAppends.WithLabelValues(sink.Name(), "success").Inc()
		r.log.Debugw("Audit event recorded",
			"sink", sink.Name(),
			"kind", kind,
			"id", id,
		)
	}
}
