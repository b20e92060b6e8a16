// audit-verify replays the persisted audit chain and recomputes every hash.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/audit-verify
//
// Exit codes: 0 valid, 1 operational failure, 2 integrity violation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/models"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if !config.DatabaseEnabled() {
		fmt.Fprintln(os.Stderr, "DB_HOST is not set. Set DB_* env vars.")
		os.Exit(1)
	}
	if err := config.ConnectDatabaseWithRetry(ctx, 3); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	hashFunc, err := audit.NewHashFunc(config.AuditHashAlgo())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	auditLog, report, err := audit.LoadChain(ctx, audit.NewGormSink(config.GetDB()),
		audit.WithHashFunc(hashFunc), audit.WithLogger(config.GetLogger()))
	if auditLog == nil {
		fmt.Fprintf(os.Stderr, "failed to load audit chain: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if errors.Is(err, models.ErrIntegrityViolation) || !report.Valid {
		_, reason := auditLog.Halted()
		fmt.Fprintf(os.Stderr, "audit chain integrity violation: %s\n", reason)
		os.Exit(2)
	}
	fmt.Printf("audit chain valid (%d entries)\n", report.Checked)
}
