package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/testutil"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprintf(w, "%s %s %s", r.URL.Path, r.Header.Get("X-Token"), body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseInput(t *testing.T) {
	testCases := []struct {
		name    string
		args    []cty.Value
		want    *Input
		wantErr string
	}{
		{
			name: "url only",
			args: []cty.Value{cty.StringVal("http://x")},
			want: &Input{URL: "http://x", Method: http.MethodGet},
		},
		{
			name: "options",
			args: []cty.Value{cty.StringVal("http://x"), cty.ObjectVal(map[string]cty.Value{
				"method":  cty.StringVal("post"),
				"body":    cty.StringVal("hi"),
				"headers": cty.ObjectVal(map[string]cty.Value{"X-Token": cty.StringVal("t")}),
			})},
			want: &Input{URL: "http://x", Method: http.MethodPost, Body: "hi", Headers: map[string]string{"X-Token": "t"}},
		},
		{name: "no url", wantErr: "fetch expects a url and optional options, got 0 arguments"},
		{
			name:    "bad options",
			args:    []cty.Value{cty.StringVal("http://x"), cty.StringVal("GET")},
			wantErr: "fetch: options must be an object, got string",
		},
		{
			name:    "unknown option",
			args:    []cty.Value{cty.StringVal("http://x"), cty.ObjectVal(map[string]cty.Value{"retries": cty.NumberIntVal(3)})},
			wantErr: "fetch: retries: unsupported option",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInput(tc.args)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFetch(t *testing.T) {
	srv := echoServer(t)

	got, err := Fetch(ctxlog.Discard(), srv.Client(), &Input{
		URL:     srv.URL + "/path",
		Method:  http.MethodPut,
		Body:    "payload",
		Headers: map[string]string{"X-Token": "secret"},
	})

	require.NoError(t, err)
	testutil.RequireValue(t, cty.NumberIntVal(http.StatusTeapot), got.GetAttr("status_code"))
	testutil.RequireValue(t, cty.StringVal("/path secret payload"), got.GetAttr("body"))
	testutil.RequireValue(t, cty.StringVal("PUT"), got.GetAttr("headers").Index(cty.StringVal("x-method")))
}

func TestFetch_RequestFailure(t *testing.T) {
	_, err := Fetch(ctxlog.Discard(), http.DefaultClient, &Input{URL: "://bad", Method: http.MethodGet})

	assert.ErrorContains(t, err, "failed to create request")
}

func TestModule_FetchFromFormula(t *testing.T) {
	srv := echoServer(t)
	r := registry.New()
	(&Module{Client: srv.Client()}).Register(r)
	r.RegisterBundle("file:///sheet", "http")
	require.NoError(t, r.ValidateRegistry(ctxlog.Discard()))

	loop := task.NewLoop()
	l := r.NewLoader(ctxlog.Discard(), loop)
	t.Cleanup(l.Close)
	g := calc.New(ctxlog.Discard(), "file:///sheet.yaml", calc.WithExecutor(loop), calc.WithRequire(l.Require))
	t.Cleanup(g.Dispose)
	g.SetAutoCalc(true)

	_, err := g.Insert("url", fmt.Sprintf("%q", srv.URL+"/hello"))
	require.NoError(t, err)
	n, err := g.Insert("status", "fetch(url).status_code")
	require.NoError(t, err)
	assert.True(t, value.IsStale(n.Value()), "pending until the response arrives")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.RunUntil(ctx, func() bool { return !value.IsStale(n.Value()) }))

	testutil.RequireValue(t, cty.NumberIntVal(http.StatusTeapot), n.Value())
}
