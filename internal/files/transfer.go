package files

import "context"

// Transfer tracks a long-running upload or download.
//
// Progress delivers 0–100 integers and is closed on completion. Slow
// consumers observe the latest percentage, not every intermediate step.
// Wait blocks for completion and returns the transfer's result: the saved
// path for downloads, the file id for uploads.
type Transfer struct {
	ID       string
	Progress <-chan int

	progress chan int
	done     chan struct{}
	result   string
	err      error
}

func newTransfer(id string) *Transfer {
	p := make(chan int, 1)
	return &Transfer{
		ID:       id,
		Progress: p,
		progress: p,
		done:     make(chan struct{}),
	}
}

// report publishes a progress percentage, replacing any undelivered one.
func (t *Transfer) report(pct int) {
	select {
	case t.progress <- pct:
		return
	default:
	}
	select {
	case <-t.progress:
	default:
	}
	select {
	case t.progress <- pct:
	default:
	}
}

// finish records the outcome, closes the progress stream and releases
// waiters. Must be called exactly once.
func (t *Transfer) finish(result string, err error) {
	t.result = result
	t.err = err
	close(t.progress)
	close(t.done)
}

// Wait blocks until the transfer completes or ctx is done.
func (t *Transfer) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
