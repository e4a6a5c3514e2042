package parallel

import (
	"context"
	"errors"
	"sync"
)

// Future is the pending result of a submitted Job.
//
// A Future settles exactly once, either resolved with a Result or rejected
// with an error. It is safe for concurrent use.
type Future struct {
	job  Job
	done chan struct{}
	once sync.Once

	res Result
	err error
}

func newFuture(job Job) *Future {
	return &Future{job: job, done: make(chan struct{})}
}

// Job returns the job this future belongs to.
func (f *Future) Job() Job { return f.job }

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result blocks until the future settles and returns its outcome.
func (f *Future) Result() (Result, error) {
	<-f.done
	return f.res, f.err
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() {
		f.res = r
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// JoinAll waits until every future has settled.
//
// Results are returned in the order of futures; a rejected future leaves a
// zero Result in its slot and contributes its error to the joined error.
// If ctx ends first, JoinAll returns ctx.Err() and nil results. Futures that
// are still pending keep running.
func JoinAll(ctx context.Context, futures []*Future) ([]Result, error) {
	for _, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	results := make([]Result, len(futures))
	var errs []error
	for i, f := range futures {
		r, err := f.Result()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i] = r
	}
	return results, errors.Join(errs...)
}
