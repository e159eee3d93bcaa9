package deputy

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kornnellio/procd/internal/bus"
	"github.com/kornnellio/procd/internal/wire"
)

// Telemetry is the log-relay half of the Telemetry Emitter (spec.md
// C6): it turns drained child stdout/stderr chunks into Printf
// messages tagged with the child's sheriff id and the deputy's
// hostname. The periodic/event-triggered Info snapshot half lives on
// Reconciler.publishSnapshot, since it is the reconciler that knows
// when "any action was taken" (spec.md §4.4 step 6).
type Telemetry struct {
	State *State
	Bus   bus.Bus
	Log   *logrus.Entry
	Now   func() int64
}

// NewTelemetry wires a Telemetry emitter with production defaults.
func NewTelemetry(state *State, b bus.Bus, log *logrus.Entry) *Telemetry {
	return &Telemetry{State: state, Bus: b, Log: log, Now: nowMicros}
}

// HandleOutput relays one drained chunk of child output as a Printf
// message. Chunks that are pure read-error diagnostics are logged at
// Warn; EOF sentinels carry no text and are not published (the event
// loop uses them only to know when it is safe to finalize a reap).
func (t *Telemetry) HandleOutput(ln outputLine) {
	switch {
	case ln.errText != "":
		t.publish(ln.sheriffID, "procman: read error: "+ln.errText)
		t.Log.WithField("sheriff_id", ln.sheriffID).Warn("child stdout read error: " + ln.errText)
	case ln.eof:
		// end of stream; nothing to relay
	default:
		t.publish(ln.sheriffID, strings.TrimRight(ln.text, "\x00"))
	}
}

func (t *Telemetry) publish(sheriffID int32, text string) {
	if t.Bus == nil || text == "" {
		return
	}
	_ = t.Bus.PublishPrintf(wire.Printf{
		DeputyName: t.State.Hostname,
		SheriffID:  sheriffID,
		Text:       text,
		UTime:      t.Now(),
	})
}

// ExitDiagnostics builds the log lines spec.md §4.4.2 requires when a
// child terminates: the signal name if it died by signal, plus a
// "Core dumped." line if a core was produced. It deliberately does not
// replicate the original's stray-argument strsignal formatting bug
// (spec.md §9, open question 1): only the signal name (and number) are
// interpolated.
func (t *Telemetry) ExitDiagnostics(sheriffID int32, wstatus syscall.WaitStatus) {
	if !wstatus.Signaled() {
		return
	}
	sig := wstatus.Signal()
	t.publish(sheriffID, fmt.Sprintf("%s (%d)", unix.SignalName(sig), int(sig)))
	if wstatus.CoreDump() {
		t.publish(sheriffID, "Core dumped.")
	}
}
