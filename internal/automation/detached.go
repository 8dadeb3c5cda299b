package automation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Detached runs engine entry points off the request path, each with its own
// timeout. Inline runs them on the caller's goroutine, which tests rely on.
type Detached struct {
	Timeout time.Duration
	Log     *zap.Logger
	Inline  bool

	wg sync.WaitGroup
}

// Go runs the steps in order on one goroutine. A failing step is logged and
// does not stop the ones after it.
func (d *Detached) Go(name string, steps ...func(ctx context.Context) (*RunSummary, error)) {
	run := func() {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for _, step := range steps {
			if _, err := step(ctx); err != nil && d.Log != nil {
				d.Log.Error("Detached automation run failed", zap.String("task", name), zap.Error(err))
			}
		}
	}
	if d.Inline {
		run()
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run()
	}()
}

// Wait blocks until every detached run has returned
func (d *Detached) Wait() {
	d.wg.Wait()
}
