package kafka

// Topic definitions for the durable event streams
const (
	// Append-only audit trail of monitoring/remediation transitions
	TopicAuditTrail = "audit.trail"
)
