// Package config loads an optional static seed table for the deputy,
// analogous to the teacher's (kornnellio/gosv) JSON -config flag but
// generalized to the full ChildHandle field set and to TOML, matching
// the config format used elsewhere in the retrieved corpus
// (Talismancer-gvisor-ligolo, schwichtgit-kahi).
//
// A seed table only matters until the first Orders message arrives
// from a coordinator; live orders always take precedence (spec.md has
// no notion of persisted or config-driven desired state).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Service is one seed entry: the initial desired state for a command
// before any coordinator has spoken.
type Service struct {
	SheriffID    int32  `toml:"sheriff_id"`
	Name         string `toml:"command"`
	Nickname     string `toml:"nickname"`
	Group        string `toml:"group"`
	DesiredRunID int32  `toml:"desired_runid"`
}

// File is the top-level shape of a seed config file.
type File struct {
	Services []Service `toml:"service"`
}

// Load parses a TOML seed file at path.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	for i := range f.Services {
		if f.Services[i].Name == "" {
			return nil, fmt.Errorf("config: service %d missing command", i)
		}
		if f.Services[i].DesiredRunID == 0 {
			f.Services[i].DesiredRunID = 1
		}
	}
	return &f, nil
}
