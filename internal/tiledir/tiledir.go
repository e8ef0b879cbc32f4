// Package tiledir stores process output as a tile directory:
// <path>/<zoom>/<row>/<col>.<ext> plus a metadata.json describing the
// pyramid and the tile format.
package tiledir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/util"
)

// MetadataFile is the name of the metadata document at the directory root
const MetadataFile = "metadata.json"

// Format is a tile encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name; an empty name means JSON
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", util.NewValidationError("format", name, "must be one of json, yaml")
	}
}

// FormatFromPath guesses the format from a file extension. ok is false when
// path has no known tile extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// Ext returns the file extension including the dot
func (f Format) Ext() string {
	return "." + string(f)
}

// Encode serializes v in the format
func (f Format) Encode(v any) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(v)
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}

// Decode parses data in the format into generic values
func (f Format) Decode(data []byte) (any, error) {
	var v any
	var err error
	switch f {
	case FormatYAML:
		err = yaml.Unmarshal(data, &v)
	default:
		err = json.Unmarshal(data, &v)
	}
	return v, err
}

// PyramidMeta describes the pyramid of a tile directory
type PyramidMeta struct {
	Grid       tile.Grid `json:"grid" yaml:"grid"`
	Metatiling int       `json:"metatiling" yaml:"metatiling"`
}

// Metadata is the content of metadata.json
type Metadata struct {
	Pyramid    PyramidMeta      `json:"pyramid" yaml:"pyramid"`
	Format     Format           `json:"format" yaml:"format"`
	Process    string           `json:"process,omitempty" yaml:"process,omitempty"`
	Bounds     *tile.Bounds     `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	ZoomLevels *tile.ZoomLevels `json:"zoom_levels,omitempty" yaml:"zoom_levels,omitempty"`
}

// NewPyramid builds the pyramid the metadata describes
func (m Metadata) NewPyramid() (*tile.Pyramid, error) {
	return tile.NewPyramid(m.Pyramid.Grid, m.Pyramid.Metatiling)
}

// compatible reports whether tiles written under o can live in m's directory
func (m Metadata) compatible(o Metadata) bool {
	return m.Pyramid.Grid == o.Pyramid.Grid &&
		max(m.Pyramid.Metatiling, 1) == max(o.Pyramid.Metatiling, 1) &&
		m.Format == o.Format
}

// ReadMetadata reads metadata.json from the directory at path
func ReadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(path, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, fmt.Errorf("%w: %s is not a tile directory (no %s)", util.ErrInvalidConfig, path, MetadataFile)
		}
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: malformed %s in %s: %v", util.ErrInvalidConfig, MetadataFile, path, err)
	}
	if meta.Format == "" {
		meta.Format = FormatJSON
	}
	return meta, nil
}

// WriteMetadata writes metadata.json into the directory at path
func WriteMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeFile(filepath.Join(path, MetadataFile), data)
}

// Directory is an opened tile directory
type Directory struct {
	path    string
	meta    Metadata
	pyramid *tile.Pyramid
}

// Open opens an existing tile directory
func Open(path string) (*Directory, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	return newDirectory(path, meta)
}

// Create opens the tile directory at path, writing metadata.json if it does
// not exist yet. Existing metadata must match meta's pyramid and format.
func Create(path string, meta Metadata) (*Directory, error) {
	if meta.Format == "" {
		meta.Format = FormatJSON
	}

	existing, err := ReadMetadata(path)
	switch {
	case err == nil:
		if !existing.compatible(meta) {
			return nil, util.NewValidationError("output", path,
				fmt.Sprintf("existing tile directory uses %s/%d/%s", existing.Pyramid.Grid, existing.Pyramid.Metatiling, existing.Format))
		}
		return newDirectory(path, existing)
	case errors.Is(err, util.ErrInvalidConfig) && !exists(filepath.Join(path, MetadataFile)):
		if err := WriteMetadata(path, meta); err != nil {
			return nil, err
		}
		return newDirectory(path, meta)
	default:
		return nil, err
	}
}

// Attach returns a handle on the directory at path described by meta
// without touching the filesystem. meta is normally the Metadata of a
// Directory returned by Open or Create.
func Attach(path string, meta Metadata) (*Directory, error) {
	return newDirectory(path, meta)
}

func newDirectory(path string, meta Metadata) (*Directory, error) {
	pyramid, err := meta.NewPyramid()
	if err != nil {
		return nil, err
	}
	if _, err := ParseFormat(string(meta.Format)); err != nil {
		return nil, err
	}
	return &Directory{path: path, meta: meta, pyramid: pyramid}, nil
}

// Path returns the directory root
func (d *Directory) Path() string {
	return d.path
}

// Metadata returns the directory metadata
func (d *Directory) Metadata() Metadata {
	return d.meta
}

// Pyramid returns the directory's tile pyramid
func (d *Directory) Pyramid() *tile.Pyramid {
	return d.pyramid
}

// Format returns the tile encoding
func (d *Directory) Format() Format {
	return d.meta.Format
}

// TilePath returns the file path of t
func (d *Directory) TilePath(t tile.Tile) string {
	return filepath.Join(d.path, strconv.Itoa(t.Zoom), strconv.Itoa(t.Row), strconv.Itoa(t.Col)+d.meta.Format.Ext())
}

// Exists reports whether t has been written
func (d *Directory) Exists(t tile.Tile) (bool, error) {
	_, err := os.Stat(d.TilePath(t))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check tile %s: %w", t, err)
	}
}

// ReadRaw returns the encoded content of t
func (d *Directory) ReadRaw(t tile.Tile) ([]byte, error) {
	data, err := os.ReadFile(d.TilePath(t))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", util.ErrTileNotFound, t, d.path)
		}
		return nil, fmt.Errorf("failed to read tile %s: %w", t, err)
	}
	return data, nil
}

// Read returns the decoded content of t
func (d *Directory) Read(t tile.Tile) (any, error) {
	data, err := d.ReadRaw(t)
	if err != nil {
		return nil, err
	}
	v, err := d.meta.Format.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", t, err)
	}
	return v, nil
}

// WriteRaw stores already encoded content for t
func (d *Directory) WriteRaw(t tile.Tile, data []byte) error {
	if err := writeFile(d.TilePath(t), data); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", t, err)
	}
	return nil
}

// Write encodes v in the directory format and stores it for t
func (d *Directory) Write(t tile.Tile, v any) error {
	data, err := d.meta.Format.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode tile %s: %w", t, err)
	}
	return d.WriteRaw(t, data)
}

// Remove deletes t; removing a missing tile is not an error
func (d *Directory) Remove(t tile.Tile) error {
	if err := os.Remove(d.TilePath(t)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove tile %s: %w", t, err)
	}
	return nil
}

// writeFile writes through a temporary file so readers never see partial tiles
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
