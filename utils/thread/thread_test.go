package thread

import (
	"runtime"
	"testing"
)

func TestPinNegativeCoreIsNoop(t *testing.T) {
	if err := Pin(-1); err != nil {
		t.Fatal(err)
	}
}

func TestPinOutOfRange(t *testing.T) {
	if err := Pin(runtime.NumCPU()); err == nil {
		t.Error("pinned to a core that does not exist")
	}
}

func TestPinFirstCore(t *testing.T) {
	done := make(chan error)
	go func() {
		defer runtime.UnlockOSThread()
		done <- Pin(0)
	}()
	if err := <-done; err != nil {
		t.Skipf("affinity not permitted here: %v", err)
	}
}
