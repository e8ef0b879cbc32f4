package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
	"github.com/aryankumar/tilebatch/internal/util"
)

const (
	defaultGrid       = tile.Geodetic
	defaultOutputPath = "output"
	envPrefix         = "TILEBATCH_PROCESS"
)

// Manager loads process configuration files
type Manager struct {
	configPath string
	config     *ProcessConfig
	viper      *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
		viper:      viper.New(),
		config:     &ProcessConfig{},
	}
}

// Load reads, defaults and validates the process configuration
func (m *Manager) Load() (*ProcessConfig, error) {
	if m.configPath == "" {
		return nil, util.NewValidationError("config", "", "process configuration file is required")
	}
	m.viper.SetConfigFile(m.configPath)
	if filepath.Ext(m.configPath) == "" {
		m.viper.SetConfigType("yaml")
	}

	// TILEBATCH_PROCESS_OUTPUT_PATH overrides output.path and so on
	m.viper.SetEnvPrefix(envPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	if err := m.viper.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file %s not found", util.ErrInvalidConfig, m.configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := m.normalizeZoom(); err != nil {
		return nil, err
	}

	m.config = &ProcessConfig{}
	if err := m.viper.Unmarshal(m.config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if m.config.ConfigDir == "" {
		dir, err := filepath.Abs(filepath.Dir(m.configPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		m.config.ConfigDir = dir
	}

	m.config.ApplyDefaults()
	if err := m.config.Validate(); err != nil {
		return nil, err
	}

	return m.config, nil
}

// normalizeZoom accepts zoom_levels written as 5, "2,5" or [2, 5]
func (m *Manager) normalizeZoom() error {
	raw := m.viper.Get("zoom_levels")
	if raw == nil {
		return nil
	}

	var levels tile.ZoomLevels
	var err error
	switch v := raw.(type) {
	case map[string]any:
		return nil
	case []any:
		var ints []int
		if ints, err = cast.ToIntSliceE(v); err != nil || len(ints) == 0 || len(ints) > 2 {
			return util.NewValidationError("zoom_levels", raw, "expected one zoom level or min, max")
		}
		levels = tile.ZoomLevels{Min: slices.Min(ints), Max: slices.Max(ints)}
		err = levels.Validate()
	default:
		levels, err = tile.ParseZoom(cast.ToString(v))
	}
	if err != nil {
		return err
	}

	m.viper.Set("zoom_levels", map[string]any{"min": levels.Min, "max": levels.Max})
	return nil
}

// ApplyDefaults sets default values for unset fields
func (c *ProcessConfig) ApplyDefaults() {
	c.Pyramid.Grid = strings.ToLower(strings.TrimSpace(c.Pyramid.Grid))
	if c.Pyramid.Grid == "" {
		c.Pyramid.Grid = string(defaultGrid)
	}
	if c.Pyramid.Metatiling == 0 {
		c.Pyramid.Metatiling = 1
	}
	if c.Output.Path == "" {
		c.Output.Path = defaultOutputPath
	}
	if c.Output.Format == "" {
		if f, ok := tiledir.FormatFromPath(c.Output.Path); ok {
			c.Output.Format = string(f)
		} else {
			c.Output.Format = string(tiledir.FormatJSON)
		}
	}
	if c.Params == nil {
		c.Params = make(map[string]any)
	}
}

// Validate checks every field and reports all problems at once
func (c *ProcessConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Process) == "" {
		errs = append(errs, util.NewValidationError("process", c.Process, "process name is required"))
	}
	if _, err := c.NewPyramid(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Zoom().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Bounds) > 0 {
		if _, err := tile.BoundsFromSlice(c.Bounds); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := tiledir.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, err)
	}

	return util.CombineErrors(errs...)
}

// NewPyramid builds the configured tile pyramid
func (c *ProcessConfig) NewPyramid() (*tile.Pyramid, error) {
	grid, err := tile.ParseGrid(c.Pyramid.Grid)
	if err != nil {
		return nil, err
	}
	return tile.NewPyramid(grid, c.Pyramid.Metatiling)
}

// Zoom returns the configured zoom range
func (c *ProcessConfig) Zoom() tile.ZoomLevels {
	return tile.ZoomLevels{Min: c.ZoomLevels.Min, Max: c.ZoomLevels.Max}
}

// Area returns the configured bounds clipped to the grid, or the whole grid
func (c *ProcessConfig) Area() (tile.Bounds, error) {
	pyramid, err := c.NewPyramid()
	if err != nil {
		return tile.Bounds{}, err
	}
	if len(c.Bounds) == 0 {
		return pyramid.Bounds(), nil
	}

	b, err := tile.BoundsFromSlice(c.Bounds)
	if err != nil {
		return tile.Bounds{}, err
	}
	area, ok := tile.Intersection(b, pyramid.Bounds())
	if !ok {
		return tile.Bounds{}, util.NewValidationError("bounds", c.Bounds, "bounds are outside of the process pyramid")
	}
	return area, nil
}

// OutputPath returns the output path resolved against ConfigDir
func (c *ProcessConfig) OutputPath() string {
	if filepath.IsAbs(c.Output.Path) || c.ConfigDir == "" {
		return c.Output.Path
	}
	return filepath.Join(c.ConfigDir, c.Output.Path)
}

// OutputMetadata returns the metadata of the output tile directory
func (c *ProcessConfig) OutputMetadata() (tiledir.Metadata, error) {
	format, err := tiledir.ParseFormat(c.Output.Format)
	if err != nil {
		return tiledir.Metadata{}, err
	}
	zoom := c.Zoom()
	meta := tiledir.Metadata{
		Pyramid: tiledir.PyramidMeta{
			Grid:       tile.Grid(c.Pyramid.Grid),
			Metatiling: c.Pyramid.Metatiling,
		},
		Format:     format,
		Process:    c.Process,
		ZoomLevels: &zoom,
	}
	if len(c.Bounds) > 0 {
		if area, err := c.Area(); err == nil {
			meta.Bounds = &area
		}
	}
	return meta, nil
}

// Clone returns a deep copy of the configuration
func (c *ProcessConfig) Clone() *ProcessConfig {
	out := *c
	out.Bounds = append([]float64(nil), c.Bounds...)
	out.Params = make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		out.Params[k] = v
	}
	return &out
}
