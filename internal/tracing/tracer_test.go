package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestInitWithoutEndpoint(t *testing.T) {
	tp, err := Init(Options{ServiceName: "loyaltyctl"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	for ratio, want := range map[float64]string{0: "AlwaysOnSampler", 1: "AlwaysOnSampler", 0.2: "ParentBased"} {
		if got := sampler(ratio).Description(); !strings.HasPrefix(got, want) {
			t.Errorf("sampler(%v) = %s, want %s", ratio, got, want)
		}
	}
}
