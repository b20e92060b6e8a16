package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IsProduction reports GO_ENV=production.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

// AuditHashAlgo selects the audit chain hash.
//
// Set via env:
// - AUDIT_HASH_ALGO=sha256 (default) | blake2b-256
func AuditHashAlgo() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_HASH_ALGO")))
	if v == "" {
		return "sha256"
	}
	return v
}

// LockTTL bounds how long an entity lock may be held before Redis expires it.
//
// Set via env:
// - LOCK_TTL_SECONDS=15
func LockTTL() time.Duration {
	return time.Duration(intFromEnv("LOCK_TTL_SECONDS", 15)) * time.Second
}

// ExternalTimeout bounds calls to the OCR and insight services.
//
// Set via env:
// - EXTERNAL_TIMEOUT_MS=4000
func ExternalTimeout() time.Duration {
	return time.Duration(intFromEnv("EXTERNAL_TIMEOUT_MS", 4000)) * time.Millisecond
}

// ExchangeRates returns the raw EXCHANGE_RATES override, e.g. "TZS=2600,CNY=7.2".
func ExchangeRates() string {
	return strings.TrimSpace(os.Getenv("EXCHANGE_RATES"))
}

// RateLimit returns (enabled, max requests, window).
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimit() (bool, int64, time.Duration) {
	enabled := strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true")
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	window := time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	return enabled, limit, window
}
