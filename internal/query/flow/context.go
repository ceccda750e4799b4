package flow

import (
	"context"
	"sync"

	"sneldb/internal/common"
)

// ErrClosed is observed by a producer when its consumer has gone away: the
// output channel's reader dropped it, or the pipeline was cancelled
// (§4.10 "producers observe a Closed error and unwind all spawned tasks
// through a cancellation token").
var ErrClosed = common.NewError(common.ErrUnavailable, "flow: pipeline closed")

// FlowContext threads cancellation through every operator spawned for one
// query: dropping the final consumer (or an explicit Cancel) closes
// Done(), every operator observes it on its next channel operation, and
// unwinds without leaking goroutines.
type FlowContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error
}

// NewFlowContext derives a cancellable FlowContext from parent.
func NewFlowContext(parent context.Context) *FlowContext {
	ctx, cancel := context.WithCancel(parent)
	return &FlowContext{ctx: ctx, cancel: cancel}
}

// Done returns the channel operators select on alongside their channel
// recv/send (§4.10's cancellation token pattern).
func (fc *FlowContext) Done() <-chan struct{} { return fc.ctx.Done() }

// Cancel unwinds every operator still running under fc.
func (fc *FlowContext) Cancel() { fc.cancel() }

// Closed reports whether fc has been cancelled.
func (fc *FlowContext) Closed() bool {
	select {
	case <-fc.ctx.Done():
		return true
	default:
		return false
	}
}

// Fail records a fatal pipeline error (e.g. a BatchSchema mismatch) and
// cancels fc so every other operator unwinds.
func (fc *FlowContext) Fail(err error) {
	fc.mu.Lock()
	fc.errs = append(fc.errs, err)
	fc.mu.Unlock()
	fc.cancel()
}

// Err returns the first fatal error recorded on fc via Fail, or ErrClosed if
// fc was cancelled without one (e.g. the consumer simply dropped), or nil
// if fc is still live.
func (fc *FlowContext) Err() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.errs) > 0 {
		return fc.errs[0]
	}
	if fc.Closed() {
		return ErrClosed
	}
	return nil
}
