package zeroconf_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/betterseqta/settings-go/internal/zeroconf"
)

func TestTXT(t *testing.T) {
	got := zeroconf.TXT("1.2.0", "sqlite")
	want := []string{"version=1.2.0", "backend=sqlite"}
	if !slices.Equal(got, want) {
		t.Errorf("TXT = %v, want %v", got, want)
	}
	if got := zeroconf.TXT("", ""); len(got) != 0 {
		t.Errorf("TXT with empty fields = %v, want empty", got)
	}
}

func TestNew_Records(t *testing.T) {
	svc := zeroconf.New("settingsd-test", 8080, "dev", "json")
	if svc == nil {
		t.Fatal("New() returned nil")
	}
	recs := svc.Records()
	recs[0] = "mutated"
	if svc.Records()[0] != "version=dev" {
		t.Error("Records returned the internal slice")
	}
}

func TestStart_InvalidPort(t *testing.T) {
	svc := zeroconf.New("settingsd-test", 0, "dev", "json")
	if err := svc.Start(context.Background()); err == nil {
		t.Error("Start with port 0 should fail")
	}
}

// TestStart_Cancel starts the service and cancels the context within 1 second.
// It verifies that Start returns without blocking.
func TestStart_Cancel(t *testing.T) {
	svc := zeroconf.New("settingsd-test", 18080, "dev", "memory")

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()

	select {
	case err := <-done:
		// mDNS may be unavailable in the test environment; returning is what matters.
		if err != nil {
			t.Logf("Start returned error (may be expected in CI): %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return within 3 seconds after context cancellation")
	}
}
