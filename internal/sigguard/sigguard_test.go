package sigguard

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests assert the recorded handler state only. No signal is ever
// delivered: while an override is active the process would be killed.

func TestNotifyAndStop(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { Stop(ch) })

	assert.Equal(t, StateNone, Current(os.Interrupt))

	Notify(ch, os.Interrupt, syscall.SIGTERM)
	assert.Equal(t, StateNotify, Current(os.Interrupt))
	assert.Equal(t, StateNotify, Current(syscall.SIGTERM))

	Stop(ch)
	assert.Equal(t, StateNone, Current(os.Interrupt))
	assert.Equal(t, StateNone, Current(syscall.SIGTERM))
}

func TestOverrideDefaultRestoresNotify(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { Stop(ch) })

	Notify(ch, os.Interrupt, syscall.SIGTERM)

	restore := OverrideDefault(os.Interrupt, syscall.SIGTERM)
	assert.Equal(t, StateNone, Current(os.Interrupt), "handling must be default while overridden")
	assert.Equal(t, StateNone, Current(syscall.SIGTERM))

	restore()
	assert.Equal(t, StateNotify, Current(os.Interrupt))
	assert.Equal(t, StateNotify, Current(syscall.SIGTERM))
}

func TestOverrideDefaultSkipsIgnored(t *testing.T) {
	Ignore(syscall.SIGTERM)
	t.Cleanup(func() {
		// Drop the ignore record so later tests see a clean slate.
		ch := make(chan os.Signal, 1)
		Notify(ch, syscall.SIGTERM)
		Stop(ch)
	})

	restore := OverrideDefault(syscall.SIGTERM)
	restore()

	assert.Equal(t, StateNone, Current(syscall.SIGTERM), "ignored handlers are not reinstated")
}

func TestOverrideDefaultSkipsNone(t *testing.T) {
	require.Equal(t, StateNone, Current(os.Interrupt))

	restore := OverrideDefault(os.Interrupt)
	restore()

	assert.Equal(t, StateNone, Current(os.Interrupt))
}

func TestRestoreIsIdempotent(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { Stop(ch) })

	Notify(ch, os.Interrupt)
	restore := OverrideDefault(os.Interrupt)
	restore()
	restore()

	assert.Equal(t, StateNotify, Current(os.Interrupt))
}
