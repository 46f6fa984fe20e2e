package socketio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/testutil"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	server "github.com/zishang520/socket.io/v2/socket"
)

// echoServer answers "ping" with "pong" carrying the same data and sends a
// "tick" to every new connection.
func echoServer(t *testing.T) string {
	t.Helper()
	io := server.NewServer(nil, nil)
	io.On("connection", func(clients ...any) {
		client := clients[0].(*server.Socket)
		client.Emit("tick", map[string]any{"n": 1})
		client.On("ping", func(data ...any) {
			client.Emit("pong", data...)
		})
	})
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", io.ServeHandler(nil))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		io.Close(nil)
		srv.Close()
	})
	return srv.URL
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(cty.ObjectVal(map[string]cty.Value{
		"namespace":            cty.StringVal("/feed"),
		"timeout":              cty.StringVal("250ms"),
		"insecure_skip_verify": cty.True,
	}))
	require.NoError(t, err)
	assert.Equal(t, Options{Namespace: "/feed", Timeout: 250 * time.Millisecond, InsecureSkipVerify: true}, opts)

	opts, err = ParseOptions(cty.NilVal)
	require.NoError(t, err)
	assert.Equal(t, Options{Namespace: "/", Timeout: defaultTimeout}, opts)

	_, err = ParseOptions(cty.ObjectVal(map[string]cty.Value{"timeout": cty.StringVal("soon")}))
	assert.ErrorContains(t, err, "timeout: time: invalid duration")

	_, err = ParseOptions(cty.ObjectVal(map[string]cty.Value{"retries": cty.NumberIntVal(1)}))
	assert.EqualError(t, err, "retries: unsupported option")
}

func TestParseInput(t *testing.T) {
	in, err := ParseInput([]cty.Value{
		cty.StringVal("http://x"), cty.StringVal("ping"), cty.StringVal("pong"),
		cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)}),
	})
	require.NoError(t, err)
	assert.Equal(t, "http://x", in.URL)
	assert.Equal(t, "ping", in.EmitEvent)
	assert.Equal(t, "pong", in.OnEvent)
	testutil.RequireValue(t, cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)}), in.EmitData)

	_, err = ParseInput([]cty.Value{cty.StringVal("http://x")})
	assert.ErrorContains(t, err, "got 1 arguments")

	_, err = ParseInput([]cty.Value{cty.StringVal("http://x"), cty.True, cty.StringVal("pong")})
	assert.EqualError(t, err, "request: argument 2: string value is required")
}

func TestPayload(t *testing.T) {
	v, err := payload(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = payload([]any{"a"})
	require.NoError(t, err)
	testutil.RequireValue(t, cty.StringVal("a"), v)

	v, err = payload([]any{"a", true})
	require.NoError(t, err)
	testutil.RequireValue(t, cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.True}), v)
}

func TestRequest(t *testing.T) {
	url := echoServer(t)
	ctx, cancel := context.WithTimeout(ctxlog.Discard(), 10*time.Second)
	defer cancel()

	got, err := Request(ctx, &Input{
		URL:       url,
		EmitEvent: "ping",
		OnEvent:   "pong",
		EmitData:  cty.ObjectVal(map[string]cty.Value{"msg": cty.StringVal("hi")}),
		Options:   Options{Namespace: "/", Timeout: 5 * time.Second},
	})

	require.NoError(t, err)
	testutil.RequireValue(t, cty.ObjectVal(map[string]cty.Value{"msg": cty.StringVal("hi")}), got)
}

func TestRequest_ConnectionTimeout(t *testing.T) {
	_, err := Request(ctxlog.Discard(), &Input{
		URL:       "http://127.0.0.1:1",
		EmitEvent: "ping",
		OnEvent:   "pong",
		EmitData:  cty.NullVal(cty.DynamicPseudoType),
		Options:   Options{Namespace: "/", Timeout: 200 * time.Millisecond},
	})

	require.Error(t, err)
}

func TestModule_Listen(t *testing.T) {
	url := echoServer(t)
	r := registry.New()
	(&Module{}).Register(r)
	require.NoError(t, r.ValidateRegistry(ctxlog.Discard()))
	loop := task.NewLoop()
	exports, err := r.NewLoader(ctxlog.Discard(), loop).Require("socketio")
	require.NoError(t, err)
	listen, ok := value.AsFunc(exports.GetAttr("listen"))
	require.True(t, ok)

	v, err := listen.Call(cty.StringVal(url), cty.StringVal("tick"))
	require.NoError(t, err)
	s, ok := value.AsStream(v)
	require.True(t, ok)

	var seen []cty.Value
	unsubscribe := s.Subscribe(func(v cty.Value) { seen = append(seen, v) })
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, loop.RunUntil(ctx, func() bool { return len(seen) > 0 }))

	require.False(t, value.IsError(seen[0]), "unexpected %s", value.Format(seen[0]))
	assert.True(t, seen[0].GetAttr("n").Equals(cty.NumberIntVal(1)).True())
}
