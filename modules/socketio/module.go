package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options holds the optional settings shared by listen and request.
type Options struct {
	Namespace          string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

const defaultTimeout = 10 * time.Second

// ParseOptions decodes an options object with any of namespace, timeout (a
// duration string) and insecure_skip_verify.
func ParseOptions(v cty.Value) (Options, error) {
	opts := Options{Namespace: "/", Timeout: defaultTimeout}
	if v == cty.NilVal || v.IsNull() {
		return opts, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return opts, fmt.Errorf("options must be an object, got %s", v.Type().FriendlyName())
	}
	for it := v.ElementIterator(); it.Next(); {
		k, attr := it.Element()
		var err error
		switch k.AsString() {
		case "namespace":
			err = gocty.FromCtyValue(attr, &opts.Namespace)
		case "timeout":
			var raw string
			if err = gocty.FromCtyValue(attr, &raw); err == nil {
				opts.Timeout, err = time.ParseDuration(raw)
			}
		case "insecure_skip_verify":
			err = gocty.FromCtyValue(attr, &opts.InsecureSkipVerify)
		default:
			err = fmt.Errorf("unsupported option")
		}
		if err != nil {
			return opts, fmt.Errorf("%s: %w", k.AsString(), err)
		}
	}
	return opts, nil
}

// newSocket builds an unconnected client socket for rawURL.
func newSocket(logger *slog.Logger, rawURL string, o Options) (*socket.Socket, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	return manager.Socket(o.Namespace, opts), nil
}

func connectError(errs []any) error {
	if len(errs) > 0 {
		if err, ok := errs[0].(error); ok {
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
		return fmt.Errorf("socket.io connection failed: %v", errs[0])
	}
	return fmt.Errorf("socket.io connection failed")
}

// payload converts the arguments of an event: none is null, one is itself
// and several are a tuple.
func payload(data []any) (cty.Value, error) {
	switch len(data) {
	case 0:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case 1:
		return value.FromGo(data[0])
	}
	return value.FromGo(data)
}

// stream delivers the payload of every event named event received from url.
// Each subscription holds its own connection.
type stream struct {
	logger *slog.Logger
	exec   task.Executor
	url    string
	event  string
	opts   Options
}

// Subscribe implements value.Subscribable.
func (s *stream) Subscribe(cb func(cty.Value)) func() {
	logger := s.logger.With("module", "socketio", "url", s.url, "onEvent", s.event)
	io, err := newSocket(logger, s.url, s.opts)
	if err != nil {
		cb(value.ErrorVal(err))
		return func() {}
	}

	var closed atomic.Bool
	post := func(v cty.Value) {
		s.exec.Post(func() {
			if !closed.Load() {
				cb(v)
			}
		})
	}

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Successfully connected", "namespace", s.opts.Namespace, "sid", io.Id())
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		post(value.ErrorVal(connectError(errs)))
	})
	io.On(types.EventName(s.event), func(data ...any) {
		post(value.Join(payload(data)))
	})

	logger.Debug("Subscribing to events.")
	io.Connect()
	return func() {
		if closed.Swap(true) {
			return
		}
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}
}

// Listen parses listen(url, event, options?) into a stream.
func Listen(ctx context.Context, exec task.Executor, args []cty.Value) (cty.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return cty.NilVal, fmt.Errorf("listen expects a url, an event and optional options, got %d arguments", len(args))
	}
	s := &stream{logger: ctxlog.FromContext(ctx), exec: exec}
	if err := gocty.FromCtyValue(args[0], &s.url); err != nil {
		return cty.NilVal, fmt.Errorf("listen: url: %w", err)
	}
	if err := gocty.FromCtyValue(args[1], &s.event); err != nil {
		return cty.NilVal, fmt.Errorf("listen: event: %w", err)
	}
	opts := cty.NilVal
	if len(args) == 3 {
		opts = args[2]
	}
	var err error
	if s.opts, err = ParseOptions(opts); err != nil {
		return cty.NilVal, fmt.Errorf("listen: %w", err)
	}
	return value.StreamVal(s), nil
}

// Input defines the arguments of a request call.
type Input struct {
	URL       string
	EmitEvent string
	OnEvent   string
	EmitData  cty.Value
	Options   Options
}

// ParseInput decodes request(url, emit_event, on_event, data?, options?).
func ParseInput(args []cty.Value) (*Input, error) {
	if len(args) < 3 || len(args) > 5 {
		return nil, fmt.Errorf("request expects a url, an event to emit, an event to await, optional data and options, got %d arguments", len(args))
	}
	in := &Input{EmitData: cty.NullVal(cty.DynamicPseudoType)}
	for i, target := range []*string{&in.URL, &in.EmitEvent, &in.OnEvent} {
		if err := gocty.FromCtyValue(args[i], target); err != nil {
			return nil, fmt.Errorf("request: argument %d: %w", i+1, err)
		}
	}
	if len(args) > 3 {
		in.EmitData = args[3]
	}
	opts := cty.NilVal
	if len(args) > 4 {
		opts = args[4]
	}
	var err error
	if in.Options, err = ParseOptions(opts); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return in, nil
}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	value cty.Value
	err   error
}

// Request emits an event once connected and settles with the payload of the
// first on_event reply.
func Request(ctx context.Context, input *Input) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("module", "socketio", "url", input.URL, "onEvent", input.OnEvent, "emitEvent", input.EmitEvent)
	logger.Debug("Request started")
	defer logger.Debug("Request finished")

	emitData, err := value.ToGo(input.EmitData)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to convert emit data: %w", err)
	}

	var isConnected atomic.Bool
	done := make(chan opResult, 1)
	opCtx, cancel := context.WithTimeout(ctx, input.Options.Timeout)
	defer cancel()

	io, err := newSocket(logger, input.URL, input.Options)
	if err != nil {
		return cty.NilVal, err
	}
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	report := func(res opResult) {
		select {
		case done <- res:
		default:
		}
	}

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Successfully connected", "namespace", input.Options.Namespace, "sid", io.Id())
		jsonData, _ := json.Marshal(emitData)
		logger.Info("Emitting event", "event", input.EmitEvent, "data", string(jsonData))
		io.Emit(input.EmitEvent, emitData)
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		report(opResult{err: connectError(errs)})
	})
	io.On(types.EventName(input.OnEvent), func(data ...any) {
		v, err := payload(data)
		report(opResult{value: v, err: err})
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return cty.NilVal, ctx.Err()
		}
		if isConnected.Load() {
			return cty.NilVal, fmt.Errorf("timed out after connecting while waiting for event '%s'", input.OnEvent)
		}
		return cty.NilVal, fmt.Errorf("timed out while waiting for initial connection")
	case res := <-done:
		return res.value, res.err
	}
}

// Register registers the module with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterModule("socketio", &registry.RegisteredModule{
		Exports: []string{"listen", "request"},
		Load: func(ctx context.Context, l *registry.Loader) (cty.Value, error) {
			logger := ctxlog.FromContext(ctx)
			return cty.ObjectVal(map[string]cty.Value{
				"listen": value.NewFunc("listen", func(args []cty.Value) (cty.Value, error) {
					return Listen(ctx, l.Executor(), args)
				}),
				"request": value.NewFunc("request", func(args []cty.Value) (cty.Value, error) {
					input, err := ParseInput(args)
					if err != nil {
						return cty.NilVal, err
					}
					return value.FutureVal(task.Start(l.Executor(), func(ctx context.Context) (cty.Value, error) {
						return Request(ctxlog.WithLogger(ctx, logger), input)
					})), nil
				}),
			}), nil
		},
	})
}
