package redisx

import (
	"context"
	"testing"
)

func TestOpenWithoutAddress(t *testing.T) {
	rdb, err := Open(context.Background(), Options{Addr: "  "})
	if rdb != nil || err != nil {
		t.Fatalf("expected nil client and nil error, got %v %v", rdb, err)
	}
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected readiness failure without a client")
	}
}
