package task

import "github.com/zclconf/go-cty/cty"

// Then derives a future from f's fulfilment. Rejections pass through.
// Cancelling the derived future releases its hold on f.
func Then(exec Executor, f *Future, fn func(cty.Value) (cty.Value, error)) *Future {
	out := newFuture(exec)
	release := f.Conclude(func(v cty.Value, err error) {
		if err != nil {
			out.settle(cty.NilVal, err)
			return
		}
		out.settle(fn(v))
	})
	out.addOnCancel(release)
	return out
}

// All fulfils with a tuple of every outcome, or rejects with the first error.
func All(exec Executor, futures ...*Future) *Future {
	out := newFuture(exec)
	if len(futures) == 0 {
		out.settle(cty.EmptyTupleVal, nil)
		return out
	}

	results := make([]cty.Value, len(futures))
	remaining := len(futures)
	releases := make([]func(), 0, len(futures))

	for i, f := range futures {
		releases = append(releases, f.Conclude(func(v cty.Value, err error) {
			if err != nil {
				out.settle(cty.NilVal, err)
				return
			}
			results[i] = v
			remaining--
			if remaining == 0 {
				out.settle(cty.TupleVal(results), nil)
			}
		}))
	}

	out.addOnCancel(func() {
		for _, release := range releases {
			release()
		}
	})
	return out
}

// Race settles with the first future to settle and releases the others.
func Race(exec Executor, futures ...*Future) *Future {
	out := newFuture(exec)
	releases := make([]func(), 0, len(futures))
	done := false

	releaseAll := func() {
		for _, release := range releases {
			release()
		}
	}

	for _, f := range futures {
		if done {
			break
		}
		releases = append(releases, f.Conclude(func(v cty.Value, err error) {
			done = true
			out.settle(v, err)
			releaseAll()
		}))
	}

	if done {
		releaseAll()
		return out
	}
	out.addOnCancel(releaseAll)
	return out
}
