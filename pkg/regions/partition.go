// Package regions splits a target's ROM into bootloader, application and
// post-application regions from the resolved bootloader_img and
// restrict_size overrides.
package regions

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Region names.
const (
	RegionBootloader      = "bootloader"
	RegionApplication     = "application"
	RegionPostApplication = "post_application"
)

// Override keys read by the partitioner.
const (
	keyBootloaderImage = "target.bootloader_img"
	keyRestrictSize    = "target.restrict_size"
)

// Config is the view of a resolved configuration the partitioner needs.
// *resolver.Config satisfies it.
type Config interface {
	Attribute(name string) (interface{}, bool)
	BootloaderImage() string
	RestrictSize() (uint64, bool, error)

	// OverrideSetBy returns the unit that assigned a target override key.
	OverrideSetBy(key string) (engine.Unit, bool)
}

// Partitioner computes ROM regions.
type Partitioner struct {
	devices engine.DeviceIndex
	images  engine.ImageInspector
	baseDir string
	logger  zerolog.Logger
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithBaseDir resolves relative bootloader image paths against dir.
func WithBaseDir(dir string) Option {
	return func(p *Partitioner) {
		p.baseDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Partitioner) {
		p.logger = logger.With().Str("component", "regions").Logger()
	}
}

// NewPartitioner creates a partitioner. A nil inspector reads images from
// disk.
func NewPartitioner(devices engine.DeviceIndex, images engine.ImageInspector, opts ...Option) *Partitioner {
	if images == nil {
		images = FileInspector{}
	}
	p := &Partitioner{
		devices: devices,
		images:  images,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Partition returns the regions of cfg. Every call recomputes them.
func (p *Partitioner) Partition(cfg Config) ([]engine.Region, error) {
	var out []engine.Region
	err := p.Each(cfg, func(r engine.Region) bool {
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each computes the regions of cfg one at a time and passes them to fn in
// address order. Iteration stops early when fn returns false. Errors are
// detected before the region they concern is produced.
func (p *Partitioner) Each(cfg Config, fn func(engine.Region) bool) error {
	name := attrString(cfg, "name")
	key, unit := requestedBy(cfg, name)
	if supported, _ := cfg.Attribute("bootloader_supported"); supported != true {
		return engine.Hardf(engine.KindUnsupportedByTarget,
			"bootloader not supported on target '%s'", name).WithParam(key).WithUnit(unit)
	}
	if p.devices == nil {
		return engine.Hardf(engine.KindUnsupportedByTarget,
			"no device index configured for target '%s'", name).WithParam(key).WithUnit(unit)
	}
	rom, err := p.devices.Lookup(attrString(cfg, "device_name"))
	if err != nil {
		var cerr *engine.ConfigError
		if errors.As(err, &cerr) && cerr.Unit == "" {
			cerr.WithUnit(unit)
		}
		return err
	}
	restrict, hasRestrict, err := cfg.RestrictSize()
	if err != nil {
		return err
	}

	var start uint64
	if image := cfg.BootloaderImage(); image != "" {
		imageUnit, _ := cfg.OverrideSetBy(keyBootloaderImage)
		region, err := p.bootloader(image, rom, imageUnit)
		if err != nil {
			return err
		}
		start += region.Size
		if start > rom.Size {
			return overflow(name, keyBootloaderImage, imageUnit)
		}
		if !fn(region) {
			return nil
		}
	}

	if !hasRestrict {
		fn(engine.Region{
			Name:   RegionApplication,
			Start:  rom.Start + start,
			Size:   rom.Size - start,
			Active: true,
		})
		return nil
	}

	if start+restrict > rom.Size {
		restrictUnit, _ := cfg.OverrideSetBy(keyRestrictSize)
		return overflow(name, keyRestrictSize, restrictUnit)
	}
	if !fn(engine.Region{
		Name:   RegionApplication,
		Start:  rom.Start + start,
		Size:   restrict,
		Active: true,
	}) {
		return nil
	}
	start += restrict
	fn(engine.Region{
		Name:  RegionPostApplication,
		Start: rom.Start + start,
		Size:  rom.Size - start,
	})
	return nil
}

// requestedBy returns the override that asked for a region layout and the
// unit that set it. Without either override the target itself is blamed.
func requestedBy(cfg Config, target string) (string, engine.Unit) {
	for _, key := range []string{keyBootloaderImage, keyRestrictSize} {
		if unit, ok := cfg.OverrideSetBy(key); ok {
			return key, unit
		}
	}
	return "target.bootloader_supported", engine.TargetUnit(target)
}

func (p *Partitioner) bootloader(image string, rom engine.ROM, unit engine.Unit) (engine.Region, error) {
	path := image
	if p.baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(p.baseDir, path)
	}
	extent, err := p.images.Inspect(path, rom.Start)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.Region{}, engine.Hardf(engine.KindBootloaderNotFound,
				"bootloader %s not found", image).
				WithParam(keyBootloaderImage).WithUnit(unit).WithCause(err)
		}
		return engine.Region{}, engine.Hardf(engine.KindInvalidDocument,
			"failed to inspect bootloader %s", image).
			WithParam(keyBootloaderImage).WithUnit(unit).WithCause(err)
	}
	if extent.MinAddr != rom.Start {
		return engine.Region{}, engine.Hardf(engine.KindBootloaderAddress,
			"bootloader executable does not start at 0x%x", rom.Start).
			WithParam(keyBootloaderImage).WithUnit(unit)
	}
	p.logger.Debug().
		Str("image", path).
		Uint64("min_addr", extent.MinAddr).
		Uint64("max_addr", extent.MaxAddr).
		Msg("Bootloader inspected")
	return engine.Region{
		Name:  RegionBootloader,
		Start: rom.Start,
		Size:  extent.Size(),
		File:  image,
	}, nil
}

func overflow(target, key string, unit engine.Unit) error {
	return engine.Hardf(engine.KindRegionOverflow,
		"not enough memory on device to fit all application regions of target '%s'", target).
		WithParam(key).WithUnit(unit)
}

func attrString(cfg Config, name string) string {
	v, _ := cfg.Attribute(name)
	s, _ := v.(string)
	return s
}
