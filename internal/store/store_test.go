package store

import (
	"context"
	"testing"
)

// Open requires a live Postgres instance, which this test suite does not
// provision. The durable store is purely additive — every
// scheduler path this package supports is exercised in-memory by
// internal/scheduler's own tests without a database configured.
func TestOpenRequiresReachableDatabase(t *testing.T) {
	t.Skip("requires a live Postgres instance; see internal/scheduler for the in-memory path this supplements")
	_, _ = Open(context.Background(), "postgres://invalid/invalid", nil)
}
