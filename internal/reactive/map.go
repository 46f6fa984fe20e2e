package reactive

// Map is a key/value table whose reads register per-key interest (Get, Has)
// or whole-table interest (Keys, Values, Len, Range). Writes notify exactly
// the affected key and the whole-table subject; writes that change nothing
// notify no one.
type Map[K comparable, V any] struct {
	rt     *Runtime
	name   string
	equals func(a, b V) bool

	entries map[K]V
	order   []K
	keys    map[K]*Atom
	all     *Atom
}

// NewMap creates an empty map. equals decides whether a Set is a no-op; nil
// treats every Set of an existing key as a change.
func NewMap[K comparable, V any](rt *Runtime, name string, equals func(a, b V) bool) *Map[K, V] {
	return &Map[K, V]{
		rt:      rt,
		name:    name,
		equals:  equals,
		entries: make(map[K]V),
		keys:    make(map[K]*Atom),
		all:     rt.NewAtom(name+":all", nil),
	}
}

func (m *Map[K, V]) observeKey(k K) {
	if !m.rt.Tracking() {
		return
	}
	atom, ok := m.keys[k]
	if !ok {
		atom = m.rt.NewAtom(m.name+":key", func() func() {
			return func() {
				if m.keys[k] == atom {
					delete(m.keys, k)
				}
			}
		})
		m.keys[k] = atom
	}
	atom.ReportObserved()
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.observeKey(k)
	v, ok := m.entries[k]
	return v, ok
}

// Has reports whether k is present.
func (m *Map[K, V]) Has(k K) bool {
	m.observeKey(k)
	_, ok := m.entries[k]
	return ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.all.ReportObserved()
	return len(m.entries)
}

// Keys returns the keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	m.all.ReportObserved()
	return append([]K(nil), m.order...)
}

// Values returns the values in insertion order.
func (m *Map[K, V]) Values() []V {
	m.all.ReportObserved()
	out := make([]V, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k])
	}
	return out
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for _, k := range m.Keys() {
		if !fn(k, m.entries[k]) {
			return
		}
	}
}

// Set stores v under k.
func (m *Map[K, V]) Set(k K, v V) {
	old, ok := m.entries[k]
	if ok && m.equals != nil && m.equals(old, v) {
		return
	}
	m.entries[k] = v
	if !ok {
		m.order = append(m.order, k)
	}
	m.changed(k)
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	if _, ok := m.entries[k]; !ok {
		return
	}
	delete(m.entries, k)
	for i, key := range m.order {
		if key == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.changed(k)
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	if len(m.entries) == 0 {
		return
	}
	removed := m.order
	m.entries = make(map[K]V)
	m.order = nil

	m.rt.Batch(func() {
		for _, k := range removed {
			if atom, ok := m.keys[k]; ok {
				atom.ReportChanged()
			}
		}
		m.all.ReportChanged()
	})
}

func (m *Map[K, V]) changed(k K) {
	m.rt.Batch(func() {
		if atom, ok := m.keys[k]; ok {
			atom.ReportChanged()
		}
		m.all.ReportChanged()
	})
}
