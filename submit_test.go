package gpuflow

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// stalledQueue never reports a submission as completed.
type stalledQueue struct{ hal.Queue }

func (stalledQueue) PollCompleted() uint64 { return 0 }

func copyCommands(t *testing.T, d *Device, label string) (*CommandBuffer, *Buffer[uint32]) {
	t.Helper()
	src := mustBuffer[uint32](t, d, label+" src", 16, BufferTransferSrc)
	dst := mustBuffer[uint32](t, d, label+" dst", 16, BufferTransferDst)
	cb, err := d.Record(RecordOptions{Label: label}).CopyBufferToBuffer(src, dst).Build()
	if err != nil {
		t.Fatalf("Build(%q): %v", label, err)
	}
	return cb, dst
}

func TestSubmitWait(t *testing.T) {
	d := openSoftware(t)
	cb, dst := copyCommands(t, d, "copy")

	tok, err := d.Submit(cb)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tok.State() != TokenPending {
		t.Errorf("State = %s, want Pending", tok.State())
	}

	done, err := tok.Wait(WaitForever)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if tok.State() != TokenSignaled || done.Label() != "copy" {
		t.Errorf("State = %s, label %q", tok.State(), done.Label())
	}
	if _, err := tok.Wait(time.Second); !errors.Is(err, ErrTokenConsumed) {
		t.Errorf("second Wait error = %v, want ErrTokenConsumed", err)
	}

	// Completion released the command buffer and its references.
	if err := cb.Release(); err != nil {
		t.Errorf("Release after completion: %v", err)
	}
	if _, err := d.Submit(cb); !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("resubmitting a completed command buffer error = %v, want ErrSubmissionFailed", err)
	}
	if err := dst.Release(); err != nil {
		t.Errorf("destination still referenced after completion: %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	d := openSoftware(t)
	cb, _ := copyCommands(t, d, "stalled")
	next, _ := copyCommands(t, d, "next")
	defer release(t, next)

	q := d.queue
	d.queue = stalledQueue{q}
	defer func() { d.queue = q }()

	tok, err := d.Submit(cb)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for _, timeout := range []time.Duration{0, 5 * time.Millisecond} {
		start := time.Now()
		if _, err := tok.Wait(timeout); !errors.Is(err, ErrTimeout) {
			t.Fatalf("Wait(%s) error = %v, want ErrTimeout", timeout, err)
		}
		if elapsed := time.Since(start); elapsed < timeout {
			t.Errorf("Wait(%s) returned after %s", timeout, elapsed)
		}
		if tok.State() != TokenTimedOut {
			t.Errorf("State = %s, want TimedOut", tok.State())
		}
	}

	if _, err := d.Submit(cb); !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("resubmitting an in-flight command buffer error = %v, want ErrSubmissionFailed", err)
	}
	if _, err := d.Submit(next); !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("second submission while in flight error = %v, want ErrSubmissionFailed", err)
	}
	if err := cb.Release(); !errors.Is(err, ErrResourceInUse) {
		t.Errorf("releasing an in-flight command buffer error = %v, want ErrResourceInUse", err)
	}

	d.queue = q
	if _, err := tok.Wait(WaitForever); err != nil {
		t.Fatalf("Wait after the queue drained: %v", err)
	}
	if tok.State() != TokenSignaled {
		t.Errorf("State = %s, want Signaled", tok.State())
	}

	tok2, err := d.Submit(next)
	if err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
	if _, err := tok2.Wait(WaitForever); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTokenStateString(t *testing.T) {
	tests := []struct {
		s    TokenState
		want string
	}{
		{TokenPending, "Pending"},
		{TokenSignaled, "Signaled"},
		{TokenTimedOut, "TimedOut"},
		{TokenState(9), "TokenState(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
