package reactive

import (
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Pull distills v: futures and streams are followed recursively and cb is
// called every time a more resolved value is available. A pending future
// reports value.Stale; a rejected one reports an error value. When an outer
// source fires again, the subscription to its previous inner value is
// cancelled first. A plain value is delivered once, synchronously.
//
// The returned function cancels the whole chain.
func Pull(v cty.Value, cb func(cty.Value)) (cancel func()) {
	var inner, outer func()

	switch value.KindOf(v) {
	case value.KindFuture:
		f, _ := value.AsFuture(v)
		outer = f.Conclude(func(res cty.Value, err error) {
			if inner != nil {
				inner()
			}
			inner = Pull(value.Join(res, err), cb)
		})
		if f.InProgress() {
			cb(value.Stale)
		}

	case value.KindStream:
		s, _ := value.AsStream(v)
		outer = s.Subscribe(func(res cty.Value) {
			if inner != nil {
				inner()
			}
			inner = Pull(res, cb)
		})

	default:
		cb(v)
	}

	return func() {
		if inner != nil {
			inner()
			inner = nil
		}
		if outer != nil {
			outer()
			outer = nil
		}
	}
}
