package catalog

import "github.com/hazyhaar/texstudio/dbopen"

// Config holds the catalog configuration.
type Config struct {
	// DBPath is the SQLite path. Default ":memory:": the catalog lives for
	// the process lifetime only.
	DBPath string `json:"db_path" yaml:"db_path"`

	// Driver is the database/sql driver name. Default: "sqlite".
	Driver string `json:"driver" yaml:"driver"`

	// Seed inserts the built-in textures when the catalog is empty.
	// Default: true.
	Seed *bool `json:"seed" yaml:"seed"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = dbopen.MemoryPath
	}
	if c.Seed == nil {
		t := true
		c.Seed = &t
	}
}
