package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestValidateRegistry(t *testing.T) {
	load := func(context.Context, *registry.Loader) (cty.Value, error) { return cty.EmptyObjectVal, nil }

	t.Run("valid", func(t *testing.T) {
		r := registry.New()
		r.RegisterModule("ok", &registry.RegisteredModule{Exports: []string{"fetch", "get_env"}, Load: load})
		r.RegisterBundle("file:///sheet", "ok")

		require.NoError(t, r.ValidateRegistry(ctxlog.Discard()))
	})

	t.Run("invalid", func(t *testing.T) {
		r := registry.New()
		r.RegisterModule("bad", &registry.RegisteredModule{Exports: []string{"a b", "for", "x", "x"}, Load: load})
		r.RegisterModule("empty", &registry.RegisteredModule{})

		err := r.ValidateRegistry(ctxlog.Discard())

		require.Error(t, err)
		assert.Equal(t, "registry validation failed:\n"+
			"- module 'bad': export 'a b' is not a valid identifier\n"+
			"- module 'bad': export 'for' is a reserved word\n"+
			"- module 'bad': export 'x' declared twice\n"+
			"- module 'empty': no loader", err.Error())
	})
}
