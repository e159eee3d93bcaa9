package deputy

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kornnellio/procd/internal/bus"
)

func newTestTelemetry() (*Telemetry, *bus.Local) {
	b := bus.NewLocal(8)
	return NewTelemetry(NewState("thishost"), b, testLog()), b
}

func TestHandleOutputPublishesText(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	tel.HandleOutput(outputLine{sheriffID: 1, text: "hello there\x00"})

	prints := b.Printfs()
	require.Len(t, prints, 1)
	assert.Equal(t, "hello there", prints[0].Text)
	assert.Equal(t, int32(1), prints[0].SheriffID)
}

func TestHandleOutputSkipsEOFSentinel(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	tel.HandleOutput(outputLine{sheriffID: 1, eof: true})

	assert.Empty(t, b.Printfs())
}

func TestHandleOutputRelaysReadErrors(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	tel.HandleOutput(outputLine{sheriffID: 1, errText: "broken pipe"})

	prints := b.Printfs()
	require.Len(t, prints, 1)
	assert.Contains(t, prints[0].Text, "broken pipe")
}

func TestExitDiagnosticsNoOpOnNormalExit(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	tel.ExitDiagnostics(1, syscall.WaitStatus(0))

	assert.Empty(t, b.Printfs())
}

func TestExitDiagnosticsSignaled(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	// SIGKILL (9), no core dump.
	tel.ExitDiagnostics(1, syscall.WaitStatus(9))

	prints := b.Printfs()
	require.Len(t, prints, 1)
	assert.Contains(t, prints[0].Text, "SIGKILL")
}

func TestExitDiagnosticsSignaledWithCoreDump(t *testing.T) {
	tel, b := newTestTelemetry()
	defer b.Close()

	// SIGSEGV (11) with the core-dump bit (0x80) set.
	tel.ExitDiagnostics(1, syscall.WaitStatus(11|0x80))

	prints := b.Printfs()
	require.Len(t, prints, 2)
	assert.Contains(t, prints[0].Text, "SIGSEGV")
	assert.Equal(t, "Core dumped.", prints[1].Text)
}
