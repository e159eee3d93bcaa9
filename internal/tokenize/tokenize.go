// Package tokenize turns a command string into an argv vector. It is
// the command-string tokenizer collaborator named in spec.md §1: the
// reconciler and process manager depend only on this package's Split
// function, never on any particular shell-quoting implementation.
package tokenize

import (
	"fmt"

	"github.com/google/shlex"
)

// Split tokenizes a command string shell-style (quoting, escapes).
// An empty or whitespace-only name yields an error, since the Process
// Manager's add/start/change_name operations all require a non-empty
// argv[0].
func Split(name string) ([]string, error) {
	argv, err := shlex.Split(name)
	if err != nil {
		return nil, fmt.Errorf("tokenize %q: %w", name, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tokenize %q: empty command", name)
	}
	return argv, nil
}
