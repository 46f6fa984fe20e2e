package app

import (
	"io"

	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/modules/env_vars"
	"github.com/vk/gridcalc/modules/http_request"
	"github.com/vk/gridcalc/modules/print"
	"github.com/vk/gridcalc/modules/socketio"
)

// coreModules is the definitive list of all modules that are compiled into
// the gridcalc binary. print writes to outW.
func coreModules(outW io.Writer) []registry.Module {
	return []registry.Module{
		&env_vars.Module{},
		&print.Module{Out: outW},
		&http_request.Module{},
		&socketio.Module{},
	}
}
