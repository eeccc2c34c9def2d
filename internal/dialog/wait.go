package dialog

import "context"

// WaitState blocks until the predicate holds for the dialog's run
// state, or ctx is done.
func (d *Dialog) WaitState(ctx context.Context, pred func(RunState, BlockReason) bool) error {
	for {
		ch := d.stateChanged()
		if st, reason := d.RunState(); pred(st, reason) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
