package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client performs the requests. Nil means a client with a 30s timeout.
	Client *http.Client
}

// Input defines the arguments of a fetch call.
type Input struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
}

// ParseInput decodes fetch(url, options?). Options is an object with any of
// method, body and headers.
func ParseInput(args []cty.Value) (*Input, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("fetch expects a url and optional options, got %d arguments", len(args))
	}
	in := &Input{Method: http.MethodGet}
	if err := gocty.FromCtyValue(args[0], &in.URL); err != nil {
		return nil, fmt.Errorf("fetch: url: %w", err)
	}
	if len(args) == 1 || args[1].IsNull() {
		return in, nil
	}

	opts := args[1]
	if !opts.Type().IsObjectType() && !opts.Type().IsMapType() {
		return nil, fmt.Errorf("fetch: options must be an object, got %s", opts.Type().FriendlyName())
	}
	for it := opts.ElementIterator(); it.Next(); {
		k, v := it.Element()
		var err error
		switch name := k.AsString(); name {
		case "method":
			err = gocty.FromCtyValue(v, &in.Method)
			in.Method = strings.ToUpper(in.Method)
		case "body":
			err = gocty.FromCtyValue(v, &in.Body)
		case "headers":
			var m cty.Value
			if m, err = convert.Convert(v, cty.Map(cty.String)); err == nil {
				err = gocty.FromCtyValue(m, &in.Headers)
			}
		default:
			err = fmt.Errorf("unsupported option")
		}
		if err != nil {
			return nil, fmt.Errorf("fetch: %s: %w", k.AsString(), err)
		}
	}
	return in, nil
}

// Fetch performs the request and returns an object with status_code, status,
// headers and body.
func Fetch(ctx context.Context, client *http.Client, input *Input) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Making HTTP request", "method", input.Method, "url", input.URL)

	var body io.Reader
	if input.Body != "" {
		body = strings.NewReader(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, input.Method, input.URL, body)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	logger.Info("Received HTTP response", "status", resp.Status)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	headerVal, err := gocty.ToCtyValue(headers, cty.Map(cty.String))
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to convert response headers: %w", err)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
		"status":      cty.StringVal(resp.Status),
		"headers":     headerVal,
		"body":        cty.StringVal(string(bodyBytes)),
	}), nil
}

// Register registers the module with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterModule("http", &registry.RegisteredModule{
		Exports: []string{"fetch"},
		Load: func(ctx context.Context, l *registry.Loader) (cty.Value, error) {
			client := m.Client
			if client == nil {
				client = &http.Client{Timeout: 30 * time.Second}
			}
			logger := ctxlog.FromContext(ctx)
			fetch := value.NewFunc("fetch", func(args []cty.Value) (cty.Value, error) {
				input, err := ParseInput(args)
				if err != nil {
					return cty.NilVal, err
				}
				return value.FutureVal(task.Start(l.Executor(), func(ctx context.Context) (cty.Value, error) {
					return Fetch(ctxlog.WithLogger(ctx, logger), client, input)
				})), nil
			})
			return cty.ObjectVal(map[string]cty.Value{"fetch": fetch}), nil
		},
	})
}
