package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Loader builds and caches module exports for one engine. Its Require method
// is the host resolver graphs consult for require and for their bundle.
type Loader struct {
	ctx  context.Context
	reg  *Registry
	exec task.Executor

	mu      sync.Mutex
	cache   map[string]cty.Value
	loading map[string]bool
	holds   []func()
}

// NewLoader creates a loader over the registry. Futures created by modules
// settle through exec.
func (r *Registry) NewLoader(ctx context.Context, exec task.Executor) *Loader {
	return &Loader{
		ctx:     ctx,
		reg:     r,
		exec:    exec,
		cache:   make(map[string]cty.Value),
		loading: make(map[string]bool),
	}
}

// Executor returns the executor futures settle through.
func (l *Loader) Executor() task.Executor { return l.exec }

// Context returns the loader's context.
func (l *Loader) Context() context.Context { return l.ctx }

// Require returns the exports of the module registered as spec. Unknown
// specifiers fail with calc.ErrModuleNotFound.
func (l *Loader) Require(spec string) (cty.Value, error) {
	l.mu.Lock()
	if v, ok := l.cache[spec]; ok {
		l.mu.Unlock()
		return v, nil
	}
	m, ok := l.reg.modules[spec]
	if !ok {
		l.mu.Unlock()
		return cty.NilVal, fmt.Errorf("%w: %s", calc.ErrModuleNotFound, spec)
	}
	if l.loading[spec] {
		l.mu.Unlock()
		return cty.NilVal, fmt.Errorf("module %s requires itself", spec)
	}
	l.loading[spec] = true
	l.mu.Unlock()

	logger := ctxlog.FromContext(l.ctx).With("module", spec)
	logger.Debug("Loading module.", "lazy", m.Lazy)

	v, err := l.load(spec, m)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.loading, spec)
	if err != nil {
		logger.Debug("Module failed to load.", "error", err)
		return cty.NilVal, err
	}
	if f, ok := value.AsFuture(v); ok {
		// The cached future is shared by every reader; hold it so that no
		// single reader cancels it.
		l.holds = append(l.holds, f.Conclude(func(_ cty.Value, err error) {
			if err != nil {
				logger.Warn("Module failed to load.", "error", err)
				return
			}
			logger.Debug("Module loaded.")
		}))
	}
	l.cache[spec] = v
	return v, nil
}

func (l *Loader) load(spec string, m *RegisteredModule) (cty.Value, error) {
	if m.Load == nil {
		return cty.NilVal, fmt.Errorf("module %s has no loader", spec)
	}
	if m.Lazy {
		f := task.Start(l.exec, func(ctx context.Context) (cty.Value, error) {
			v, err := m.Load(ctxlog.WithLogger(ctx, ctxlog.FromContext(l.ctx)), l)
			if err != nil {
				return cty.NilVal, err
			}
			return v, checkExports(spec, m, v)
		})
		return value.FutureVal(f), nil
	}
	v, err := m.Load(l.ctx, l)
	if err != nil {
		return cty.NilVal, err
	}
	return v, checkExports(spec, m, v)
}

// checkExports verifies that a loaded export object provides the names its
// module declares.
func checkExports(spec string, m *RegisteredModule, v cty.Value) error {
	if len(m.Exports) == 0 || value.IsFuture(v) || !v.IsKnown() || v.IsNull() {
		return nil
	}
	ty := v.Type()
	if !ty.IsObjectType() {
		return fmt.Errorf("module %s declares exports but provides %s", spec, ty.FriendlyName())
	}
	var missing []string
	for _, name := range m.Exports {
		if !ty.HasAttribute(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("module %s declares exports %v which it does not provide", spec, missing)
	}
	return nil
}

// Loaded returns the specifiers loaded so far, in sorted order.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.cache))
	for name := range l.cache {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases the loader's hold on pending module loads and forgets its
// cache.
func (l *Loader) Close() {
	l.mu.Lock()
	holds := l.holds
	l.holds = nil
	l.cache = make(map[string]cty.Value)
	l.mu.Unlock()
	for _, release := range holds {
		release()
	}
}
