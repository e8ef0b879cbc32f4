package config

// ProcessConfig represents a process configuration file
type ProcessConfig struct {
	// Process is the registered process function run per tile
	Process string `mapstructure:"process" json:"process" yaml:"process"`

	// Params are passed to the process function
	Params map[string]any `mapstructure:"params" json:"params,omitempty" yaml:"params,omitempty"`

	// Pyramid selects the tile grid
	Pyramid PyramidConfig `mapstructure:"pyramid" json:"pyramid" yaml:"pyramid"`

	// ZoomLevels limits processing to a zoom range
	ZoomLevels ZoomConfig `mapstructure:"zoom_levels" json:"zoom_levels" yaml:"zoom_levels"`

	// Bounds limits processing to left, bottom, right, top (default: whole grid)
	Bounds []float64 `mapstructure:"bounds" json:"bounds,omitempty" yaml:"bounds,omitempty"`

	// Output describes the tile directory written to
	Output OutputConfig `mapstructure:"output" json:"output" yaml:"output"`

	// ConfigDir resolves relative paths; set to the directory of the file
	ConfigDir string `mapstructure:"config_dir" json:"config_dir,omitempty" yaml:"config_dir,omitempty"`
}

// PyramidConfig selects a tile grid and metatiling
type PyramidConfig struct {
	// Grid is geodetic or mercator
	Grid string `mapstructure:"grid" json:"grid" yaml:"grid"`

	// Metatiling groups tiles into process tiles (1, 2, 4, 8, 16)
	Metatiling int `mapstructure:"metatiling" json:"metatiling" yaml:"metatiling"`
}

// ZoomConfig is an inclusive zoom range
type ZoomConfig struct {
	Min int `mapstructure:"min" json:"min" yaml:"min"`
	Max int `mapstructure:"max" json:"max" yaml:"max"`
}

// OutputConfig describes the output tile directory
type OutputConfig struct {
	// Path of the tile directory, relative to ConfigDir unless absolute
	Path string `mapstructure:"path" json:"path" yaml:"path"`

	// Format of written tiles (json, yaml)
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}
