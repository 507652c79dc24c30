package app

import (
	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/backend/interp"
)

// coreBackends is the definitive list of compiler backends compiled into
// the binary, keyed by the name used in the settings block.
var coreBackends = map[string]backend.Backend{
	"interp": interp.New(),
}
