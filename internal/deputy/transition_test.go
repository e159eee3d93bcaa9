package deputy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideTransition(t *testing.T) {
	cases := []struct {
		name                   string
		status                 RunState
		forceQuit              bool
		desired, actual        int32
		want                   transition
	}{
		{"stopped, no force, runid matches", StateStopped, false, 1, 1, transitionNone},
		{"stopped, no force, runid differs -> start", StateStopped, false, 2, 1, transitionStart},
		{"stopped, force quit -> stays stopped", StateStopped, true, 2, 1, transitionNone},
		{"running, matches, no force -> none", StateRunning, false, 1, 1, transitionNone},
		{"running, runid bumped -> stop", StateRunning, false, 2, 1, transitionStop},
		{"running, force quit -> stop", StateRunning, true, 1, 1, transitionStop},
		{"running, force quit and runid bumped -> stop", StateRunning, true, 2, 1, transitionStop},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := decideTransition(c.status, c.forceQuit, c.desired, c.actual)
			assert.Equal(t, c.want, got)
		})
	}
}
