package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mvp-joe/cortex-lsp/internal/feature"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest describes a plugin and the features it contributes to.
type Manifest struct {
	ID          string   `yaml:"id"`          // Unique identifier (e.g., "py-lint")
	Name        string   `yaml:"name"`        // Human-readable name
	Version     string   `yaml:"version"`     // Semver (e.g., "1.2.0")
	Description string   `yaml:"description"` // Short description
	Features    []string `yaml:"features"`    // Features the plugin contributes to
	Main        string   `yaml:"main"`        // Entry point relative to the plugin directory

	// Internal: directory the manifest was loaded from
	dir string
}

// Validation errors.
var (
	ErrMissingID        = errors.New("manifest: id is required")
	ErrInvalidID        = errors.New("manifest: id must be lowercase alphanumeric with hyphens, dots or underscores")
	ErrNoFeatures       = errors.New("manifest: at least one feature is required")
	ErrDuplicateFeature = errors.New("manifest: feature listed twice")
	ErrUnknownFeature   = errors.New("manifest: unknown feature")
	ErrInvalidVersion   = errors.New("manifest: version must be valid semver")
	ErrInvalidMain      = errors.New("manifest: main must be a .lua file")
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads plugin.yaml from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

func (m *Manifest) applyDefaults() {
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Main == "" {
		m.Main = "init.lua"
	}
}

// Validate reports every problem with the manifest.
func (m *Manifest) Validate() error {
	var errs []error

	switch {
	case m.ID == "":
		errs = append(errs, ErrMissingID)
	case !idPattern.MatchString(m.ID):
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidID, m.ID))
	}

	if m.Version != "" && !semverPattern.MatchString(m.Version) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version))
	}

	if len(m.Features) == 0 {
		errs = append(errs, ErrNoFeatures)
	}
	seen := make(map[string]bool, len(m.Features))
	for _, f := range m.Features {
		if seen[f] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateFeature, f))
		}
		if !feature.Known(f) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownFeature, f))
		}
		seen[f] = true
	}

	if m.dir != "" && filepath.Ext(m.Main) != ".lua" {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidMain, m.Main))
	}

	return errors.Join(errs...)
}

// Declares reports whether the manifest lists feature.
func (m *Manifest) Declares(feature string) bool {
	for _, f := range m.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Dir returns the directory the manifest was loaded from, or "".
func (m *Manifest) Dir() string {
	return m.dir
}

// MainPath returns the absolute entry point of a manifest loaded from disk.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.dir, m.Main)
}
