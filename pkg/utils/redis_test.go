package utils

import (
	"context"
	"testing"
	"time"
)

func TestLeaseScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if leaseAcquireScript == nil || leaseReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestLeaseArgumentValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := AcquireLease(ctx, nil, "k", "h", time.Second); err == nil {
		t.Fatalf("expected error on nil client")
	}
	if err := ReleaseLease(ctx, nil, "k", "h"); err == nil {
		t.Fatalf("expected error on nil client")
	}
}
