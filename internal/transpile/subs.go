package transpile

import (
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// streamEntry holds the observable adapters created for one stream. The Nth
// lookup within one runtime generation returns the Nth adapter, so a formula
// re-evaluated in a new run picks up the adapters it subscribed last time.
type streamEntry struct {
	generation  uint64
	current     int
	observables map[int]*reactive.StreamObservable
}

// invokeSubs turns an operation over streams into a stream: a reactive cell
// recomputing self whenever any stream argument emits.
func (o *Ops) invokeSubs(name string, self Func, args []cty.Value) value.Subscribable {
	obs := make([]reactive.Observable, len(args))
	for i, a := range args {
		if value.IsStream(a) {
			obs[i] = o.observe(a)
			continue
		}
		obs[i] = reactive.Const{V: a}
	}

	cell := reactive.NewCell(o.rt, name, func() (cty.Value, error) {
		vals := make([]cty.Value, len(obs))
		for i, ob := range obs {
			v := ob.Get()
			if value.IsStale(v) {
				return value.Stale, nil
			}
			if err, ok := value.AsError(v); ok {
				return cty.NilVal, err
			}
			vals[i] = v
		}
		return self(vals)
	})
	return reactive.FromObservable(o.rt, "fromObservable:"+name, cell)
}

// observe returns the adapter for stream v.
func (o *Ops) observe(v cty.Value) *reactive.StreamObservable {
	key := value.StreamKey(v)
	s, _ := value.AsStream(v)

	seq := o.rt.Sequence()
	entry, ok := o.streams[key]
	if !ok {
		entry = o.pendingEntry(key, seq)
	}

	if entry.generation != seq {
		entry.generation = seq
		entry.current = 0
	}
	id := entry.current
	entry.current++

	if obs, ok := entry.observables[id]; ok {
		return obs
	}

	var obs *reactive.StreamObservable
	obs = reactive.ToObservable(o.rt, "subs", &trackedStream{
		stream: s,
		onSubscribe: func() {
			o.streams[key] = entry
			entry.observables[id] = obs
			if o.pending[key] == entry {
				delete(o.pending, key)
			}
		},
		onUnsubscribe: func() {
			if entry.observables[id] != obs {
				return
			}
			delete(entry.observables, id)
			if len(entry.observables) == 0 && o.streams[key] == entry {
				delete(o.streams, key)
			}
		},
	})
	return obs
}

// pendingEntry returns the unsubscribed entry for key in generation seq.
// Entries left unsubscribed by an earlier generation are dropped.
func (o *Ops) pendingEntry(key any, seq uint64) *streamEntry {
	if o.pending == nil || o.pendingGen != seq {
		o.pending = make(map[any]*streamEntry)
		o.pendingGen = seq
	}
	entry, ok := o.pending[key]
	if !ok {
		entry = &streamEntry{generation: seq, observables: make(map[int]*reactive.StreamObservable)}
		o.pending[key] = entry
	}
	return entry
}

// cachedStreams reports how many streams currently have live adapters.
func (o *Ops) cachedStreams() int {
	n := 0
	for _, e := range o.streams {
		if len(e.observables) > 0 {
			n++
		}
	}
	return n
}

type trackedStream struct {
	stream        value.Subscribable
	onSubscribe   func()
	onUnsubscribe func()
}

func (t *trackedStream) Subscribe(cb func(cty.Value)) func() {
	t.onSubscribe()
	unsubscribe := t.stream.Subscribe(cb)
	return func() {
		t.onUnsubscribe()
		unsubscribe()
	}
}

func (t *trackedStream) Get() cty.Value {
	if g, ok := t.stream.(value.Getter); ok {
		return g.Get()
	}
	return value.Stale
}
