package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"watchtower/pkg/errors"
)

// AuditArchive persists audit entries to ClickHouse for long-term
// queryability. Schema:
//
//	CREATE TABLE audit_trail (
//	    id          UUID,
//	    tag         LowCardinality(String),
//	    payload     String,
//	    recorded_at DateTime64(3, 'UTC')
//	) ENGINE = MergeTree ORDER BY (tag, recorded_at)
type AuditArchive struct {
	conn driver.Conn
}

// NewAuditArchive creates a new audit archive
func NewAuditArchive(conn driver.Conn) *AuditArchive {
	return &AuditArchive{conn: conn}
}

// Name identifies the sink in logs and metrics
func (r *AuditArchive) Name() string {
	return "clickhouse"
}

// Append inserts a single audit entry and returns its id
func (r *AuditArchive) Append(ctx context.Context, tag string, payload []byte) (string, error) {
	id := uuid.New()

	err := r.conn.Exec(ctx, `
		INSERT INTO audit_trail (id, tag, payload, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, id, tag, string(payload), time.Now().UTC())
	if err != nil {
		return "", errors.Wrap(err, "failed to insert audit entry")
	}

	return id.String(), nil
}

// Recent returns the latest payloads for a tag, newest first
func (r *AuditArchive) Recent(ctx context.Context, tag string, limit int) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT payload
		FROM audit_trail
		WHERE tag = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, tag, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		payloads = append(payloads, payload)
	}
	return payloads, rows.Err()
}
