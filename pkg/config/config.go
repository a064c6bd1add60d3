// Package config provides configuration loading and management for tomorecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"tomorecon/pkg/backprojector"
	"tomorecon/pkg/fanbeam"
	"tomorecon/pkg/filter"
	"tomorecon/pkg/projector"
	"tomorecon/pkg/reconstruction"
)

// Output formats understood by the visualization sink.
var outputFormats = map[string]bool{"png": true, "tiff": true, "jpeg": true}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Image describes the input and reconstructed image grid
	Image struct {
		Width   int     `yaml:"width"`
		Height  int     `yaml:"height"`
		Spacing float64 `yaml:"spacing"`
	} `yaml:"image"`

	// Parallel describes the parallel-beam sinogram, acquired directly or
	// produced by rebinning a fan-beam scan
	Parallel struct {
		NumProjections    int     `yaml:"numProjections"`
		AngularIncrement  float64 `yaml:"angularIncrement"`
		NumDetectorPixels int     `yaml:"numDetectorPixels"`
		DetectorSpacing   float64 `yaml:"detectorSpacing"`

		// SampleSpacing is the line-integral step, shared with the fan beam
		SampleSpacing float64 `yaml:"sampleSpacing"`
	} `yaml:"parallel"`

	// FanBeam describes the point-source acquisition
	FanBeam struct {
		// Enabled switches the pipeline to fan-beam acquisition and rebinning
		Enabled bool `yaml:"enabled"`

		NumProjections    int     `yaml:"numProjections"`
		AngularIncrement  float64 `yaml:"angularIncrement"`
		NumDetectorPixels int     `yaml:"numDetectorPixels"`
		DetectorSpacing   float64 `yaml:"detectorSpacing"`

		// DistSourceIso is the source to rotation-centre distance
		DistSourceIso float64 `yaml:"distSourceIso"`

		// DistSourceDet is the source to detector distance
		DistSourceDet float64 `yaml:"distSourceDet"`
	} `yaml:"fanBeam"`

	// Filter selects the reconstruction kernel
	Filter struct {
		Kind            filter.Kind `yaml:"kind"`
		PadToPowerOfTwo bool        `yaml:"padToPowerOfTwo"`
	} `yaml:"filter"`

	// Processing parameters
	Processing struct {
		// NumWorkers bounds the goroutines per step; zero uses all cores
		NumWorkers int `yaml:"numWorkers"`

		// Backend is the registry name of the compute backend
		Backend string `yaml:"backend"`

		// Normalize applies the π/numProjections backprojection scaling
		Normalize bool `yaml:"normalize"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes every pipeline checkpoint to IntermediaryDir
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		IntermediaryDir string `yaml:"intermediaryDir"`

		// Format is the image format of saved results: png, tiff or jpeg
		Format string `yaml:"format"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Image.Width = 256
	cfg.Image.Height = 256
	cfg.Image.Spacing = 1.0

	cfg.Parallel.NumProjections = 180
	cfg.Parallel.AngularIncrement = 1.0
	cfg.Parallel.NumDetectorPixels = 256
	cfg.Parallel.DetectorSpacing = 1.0
	cfg.Parallel.SampleSpacing = projector.DefaultSampleSpacing

	// The source circle is well clear of the image diagonal and the
	// detector sits as far beyond the centre as the source.
	cfg.FanBeam.Enabled = false
	cfg.FanBeam.NumProjections = 360
	cfg.FanBeam.AngularIncrement = 1.0
	cfg.FanBeam.NumDetectorPixels = 512
	cfg.FanBeam.DetectorSpacing = 2.0
	cfg.FanBeam.DistSourceIso = 1.5 * float64(cfg.Image.Width) * cfg.Image.Spacing
	cfg.FanBeam.DistSourceDet = 2 * cfg.FanBeam.DistSourceIso

	cfg.Filter.Kind = filter.RamLak
	cfg.Filter.PadToPowerOfTwo = false

	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Backend = "cpu"
	cfg.Processing.Normalize = true

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Format = "png"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports every invalid setting at once. Geometry that only fails
// against the object, such as a fan-beam source inside the image, is left
// to the pipeline.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Image.Width > 0 && c.Image.Height > 0, "image: invalid size %dx%d", c.Image.Width, c.Image.Height)
	check(c.Image.Spacing > 0, "image: spacing must be positive, got %g", c.Image.Spacing)

	if err := c.ParallelGeometry().WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("parallel: %w", err))
	}
	if c.FanBeam.Enabled {
		if err := c.FanGeometry().WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("fanBeam: %w", err))
		}
		check(c.FanBeam.DistSourceDet > c.FanBeam.DistSourceIso,
			"fanBeam: distSourceDet %g must exceed distSourceIso %g", c.FanBeam.DistSourceDet, c.FanBeam.DistSourceIso)
	}

	check(c.Filter.Kind == filter.Ramp || c.Filter.Kind == filter.RamLak, "filter: unknown kind %v", c.Filter.Kind)
	check(c.Processing.NumWorkers >= 0, "processing: numWorkers must not be negative, got %d", c.Processing.NumWorkers)
	check(outputFormats[c.Output.Format], "output: unknown format %q", c.Output.Format)

	return errors.Join(errs...)
}

// ParallelGeometry returns the parallel-beam acquisition.
func (c *Config) ParallelGeometry() projector.Geometry {
	return projector.Geometry{
		NumProjections:    c.Parallel.NumProjections,
		AngularIncrement:  c.Parallel.AngularIncrement,
		NumDetectorPixels: c.Parallel.NumDetectorPixels,
		DetectorSpacing:   c.Parallel.DetectorSpacing,
		SampleSpacing:     c.Parallel.SampleSpacing,
	}
}

// FanGeometry returns the fan-beam acquisition.
func (c *Config) FanGeometry() fanbeam.Geometry {
	return fanbeam.Geometry{
		NumProjections:    c.FanBeam.NumProjections,
		AngularIncrement:  c.FanBeam.AngularIncrement,
		NumDetectorPixels: c.FanBeam.NumDetectorPixels,
		DetectorSpacing:   c.FanBeam.DetectorSpacing,
		DistSourceIso:     c.FanBeam.DistSourceIso,
		DistSourceDet:     c.FanBeam.DistSourceDet,
		SampleSpacing:     c.Parallel.SampleSpacing,
	}
}

// RebinGeometry returns the parallel sinogram a fanogram is rebinned onto.
func (c *Config) RebinGeometry() fanbeam.RebinGeometry {
	return fanbeam.RebinGeometry{
		NumProjections:    c.Parallel.NumProjections,
		AngularIncrement:  c.Parallel.AngularIncrement,
		NumDetectorPixels: c.Parallel.NumDetectorPixels,
		DetectorSpacing:   c.Parallel.DetectorSpacing,
	}
}

// ImageGeometry returns the reconstructed image, centred on the rotation axis.
func (c *Config) ImageGeometry() backprojector.Geometry {
	return backprojector.Geometry{
		Width:   c.Image.Width,
		Height:  c.Image.Height,
		Spacing: [2]float64{c.Image.Spacing, c.Image.Spacing},
	}
}

// FilterConfig returns the kernel settings; the width is set per sinogram.
func (c *Config) FilterConfig() filter.Config {
	return filter.Config{
		Kind:            c.Filter.Kind,
		PadToPowerOfTwo: c.Filter.PadToPowerOfTwo,
	}
}

// ReconstructionParams assembles the pipeline parameters.
func (c *Config) ReconstructionParams() *reconstruction.Params {
	return &reconstruction.Params{
		Parallel:  c.ParallelGeometry(),
		FanBeam:   c.FanBeam.Enabled,
		Fan:       c.FanGeometry(),
		Rebin:     c.RebinGeometry(),
		Filter:    c.FilterConfig(),
		Image:     c.ImageGeometry(),
		Normalize: c.Processing.Normalize,
		NumCores:  c.Processing.NumWorkers,
		Backend:   c.Processing.Backend,
	}
}
