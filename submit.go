package gpuflow

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// WaitForever makes Wait block until the submission completes.
const WaitForever time.Duration = -1

const (
	pollMin = 50 * time.Microsecond
	pollMax = time.Millisecond
)

// TokenState is the state of a CompletionToken.
type TokenState uint8

const (
	TokenPending TokenState = iota
	TokenSignaled
	TokenTimedOut
)

// String returns the state name.
func (s TokenState) String() string {
	switch s {
	case TokenPending:
		return "Pending"
	case TokenSignaled:
		return "Signaled"
	case TokenTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("TokenState(%d)", int(s))
	}
}

// CompletionToken tracks one submission. It signals once; the first
// successful Wait consumes it.
type CompletionToken struct {
	dev   *Device
	cb    *CommandBuffer
	index uint64
	label string
	state TokenState
}

// Completion is returned by a successful Wait. Readback takes it, so
// reading results before their submission completed cannot be expressed.
// The zero Completion proves nothing.
type Completion struct {
	label   string
	buffers map[*buffer]bool
}

// Label returns the label of the completed command buffer.
func (c Completion) Label() string { return c.label }

// Submit hands cb to the queue. Only one submission may be in flight: the
// token of the previous one must have been waited to completion first.
// A command buffer is submitted at most once.
func (d *Device) Submit(cb *CommandBuffer) (*CompletionToken, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := cb.alive(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	d.mu.Lock()
	switch {
	case cb.submitted:
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s was already submitted", ErrSubmissionFailed, &cb.resource)
	case d.inFlight != nil:
		prev := d.inFlight.label
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is still in flight", ErrSubmissionFailed, prev)
	}
	cb.submitted = true
	d.mu.Unlock()

	idx, err := d.queue.Submit([]hal.CommandBuffer{cb.hal})
	if err != nil {
		d.mu.Lock()
		cb.submitted = false
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q: %v", ErrSubmissionFailed, cb.label, err)
	}

	t := &CompletionToken{dev: d, cb: cb, index: idx, label: cb.label}
	d.mu.Lock()
	d.inFlight = t
	d.mu.Unlock()
	Logger().Debug("gpuflow: submitted", "label", cb.label, "index", idx)
	return t, nil
}

// State returns the token's current state.
func (t *CompletionToken) State() TokenState { return t.state }

// Wait blocks until the submission completes or timeout elapses. A zero
// timeout polls once; WaitForever never times out. On expiry the token
// moves to TokenTimedOut and Wait returns ErrTimeout; it may be waited
// again. Waiting on a signaled token fails with ErrTokenConsumed.
func (t *CompletionToken) Wait(timeout time.Duration) (Completion, error) {
	if t.state == TokenSignaled {
		return Completion{}, fmt.Errorf("%w: %q", ErrTokenConsumed, t.label)
	}

	start := time.Now()
	backoff := pollMin
	for {
		if t.dev.queue.PollCompleted() >= t.index {
			return t.signal(), nil
		}
		elapsed := time.Since(start)
		if timeout >= 0 && elapsed >= timeout {
			t.state = TokenTimedOut
			return Completion{}, fmt.Errorf("%w: %q after %s", ErrTimeout, t.label, timeout)
		}

		sleep := backoff
		if timeout > 0 {
			sleep = min(sleep, timeout-elapsed)
		}
		time.Sleep(sleep)
		backoff = min(backoff*2, pollMax)
	}
}

// signal consumes the token and frees the command buffer.
func (t *CompletionToken) signal() Completion {
	t.state = TokenSignaled
	d := t.dev
	d.mu.Lock()
	if d.inFlight == t {
		d.inFlight = nil
	}
	d.mu.Unlock()

	done := Completion{label: t.label, buffers: t.cb.buffers}
	if err := t.cb.release(t.cb.free); err != nil {
		Logger().Warn("gpuflow: release completed command buffer", "label", t.label, "err", err)
	}
	Logger().Debug("gpuflow: completed", "label", t.label, "index", t.index)
	return done
}
