package main

// Creates the ClickHouse table backing the audit archive.
//
// Usage:
//   go run scripts/init_audit_schema.go --host localhost --port 9000 --db watchtower

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const auditTrailDDL = `
CREATE TABLE IF NOT EXISTS audit_trail (
    id          UUID,
    tag         LowCardinality(String),
    payload     String,
    recorded_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (tag, recorded_at)
TTL toDateTime(recorded_at) + INTERVAL 2 YEAR
`

func main() {
	host := flag.String("host", "localhost", "ClickHouse host")
	port := flag.Int("port", 9000, "ClickHouse native port")
	user := flag.String("user", "default", "ClickHouse user")
	password := flag.String("password", "", "ClickHouse password")
	database := flag.String("db", "watchtower", "Target database")
	flag.Parse()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", *host, *port)},
		Auth: clickhouse.Auth{
			Database: *database,
			Username: *user,
			Password: *password,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ping: %v\n", err)
		os.Exit(1)
	}

	if err := conn.Exec(ctx, auditTrailDDL); err != nil {
		fmt.Fprintf(os.Stderr, "create table: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("audit_trail ready in %s\n", *database)
}
