package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// ProjectConfig holds the defaults an optional pipeit.toml in the
// current directory contributes; any flag the user passes explicitly
// overrides the matching field here.
type ProjectConfig struct {
	TickRate  float64  `toml:"tick_rate"`
	CC        string   `toml:"cc"`
	CFlags    string   `toml:"cflags"`
	ActorPath []string `toml:"actor_path"`
}

// loadProjectConfig reads path if it exists; a missing file is not an
// error, since the config is entirely optional.
func loadProjectConfig(path string) (ProjectConfig, error) {
	var cfg ProjectConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
