package pipeline

import (
	"context"
	"sync"
)

// run is one submission between admission and commit.
type run struct {
	key        string
	cancel     context.CancelCauseFunc
	superseded bool // guarded by inflight.mu
}

// inflight tracks running submissions by capture key. A newer submission
// for the same key cancels the older one.
type inflight struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newInflight() *inflight {
	return &inflight{runs: make(map[string]*run)}
}

// begin registers a run for key and returns its context. It reports the
// run it displaced, if any.
func (f *inflight) begin(ctx context.Context, key string) (context.Context, *run, bool) {
	runCtx, cancel := context.WithCancelCause(ctx)
	r := &run{key: key, cancel: cancel}
	if key == "" {
		return runCtx, r, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, displaced := f.runs[key]
	if displaced {
		prev.superseded = true
		prev.cancel(ErrSuperseded)
	}
	f.runs[key] = r
	return runCtx, r, displaced
}

// commit removes r from the registry. It returns false when r was
// superseded; once commit returns true r can no longer be superseded.
func (f *inflight) commit(r *run) bool {
	if r.key == "" {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.superseded {
		return false
	}
	if f.runs[r.key] == r {
		delete(f.runs, r.key)
	}
	return true
}

// release cancels r and drops it from the registry if it is still current.
func (f *inflight) release(r *run) {
	r.cancel(nil)
	if r.key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs[r.key] == r {
		delete(f.runs, r.key)
	}
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}
