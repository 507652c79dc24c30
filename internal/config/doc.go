// Package config loads the runtime's HCL configuration: the settings block
// consumed by the offload layer, named constants, graph program
// definitions, and ahead-of-time preload declarations.
package config
