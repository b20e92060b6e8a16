package audit

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/mmdatafocus/freight_backend/config"
)

// Requires a MySQL reachable through the DB_* variables.
func TestGormSink_RoundTripVerifies(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires MySQL)")
	}
	ctx := context.Background()
	if err := config.ConnectDatabaseWithRetry(ctx, 3); err != nil {
		t.Fatalf("connect: %v", err)
	}
	db := config.GetDB()
	if err := db.Migrator().DropTable(&auditRow{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	sink := NewGormSink(db)
	if err := sink.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	l := NewLog(sink)
	appendN(t, l, 3)

	reloaded, report, err := LoadChain(ctx, sink)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !report.Valid || reloaded.Len() != 3 {
		t.Fatalf("expected reloaded chain valid with 3 entries, got %+v", report)
	}

	err = db.Model(&auditRow{}).Where("seq = ?", 1).Update("action", "edited").Error
	if !errors.Is(err, config.ErrAppendOnlyTable) {
		t.Fatalf("expected append-only guard to reject update, got %v", err)
	}
}
