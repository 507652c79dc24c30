// Package cli translates command-line arguments into an app configuration.
package cli
