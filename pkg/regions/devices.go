package regions

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Device is one entry of a device index file.
type Device struct {
	// Name is the device name, as used by a target's device_name attribute.
	Name string `yaml:"-" validate:"required"`

	// Vendor is informational.
	Vendor string `yaml:"vendor,omitempty"`

	// ROM is the internal flash geometry.
	ROM engine.ROM `yaml:"rom" validate:"required"`
}

// DeviceCatalog is a DeviceIndex backed by a YAML document:
//
//	MK64FN1M0xxx12:
//	  vendor: NXP
//	  rom:
//	    start: 0x0
//	    size: 0x100000
type DeviceCatalog struct {
	devices map[string]Device
}

// DeviceMap is an in-memory DeviceIndex.
type DeviceMap map[string]engine.ROM

// Lookup implements engine.DeviceIndex.
func (m DeviceMap) Lookup(device string) (engine.ROM, error) {
	rom, ok := m[device]
	if !ok {
		return engine.ROM{}, missingGeometry(device)
	}
	return rom, nil
}

// LoadDevices loads a device index from a YAML file.
func LoadDevices(path string) (*DeviceCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device index: %w", err)
	}
	return ParseDevices(data)
}

// ParseDevices parses a device index from raw bytes.
func ParseDevices(data []byte) (*DeviceCatalog, error) {
	var raw map[string]Device
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse device index YAML: %w", err)
	}

	validate := validator.New()
	catalog := &DeviceCatalog{devices: make(map[string]Device, len(raw))}
	for name, device := range raw {
		device.Name = name
		if err := validate.Struct(device); err != nil {
			return nil, fmt.Errorf("invalid device %s: %w", name, err)
		}
		catalog.devices[name] = device
	}
	return catalog, nil
}

// Lookup implements engine.DeviceIndex.
func (c *DeviceCatalog) Lookup(device string) (engine.ROM, error) {
	d, ok := c.devices[device]
	if !ok {
		return engine.ROM{}, missingGeometry(device)
	}
	return d.ROM, nil
}

// Names returns the indexed device names, sorted.
func (c *DeviceCatalog) Names() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func missingGeometry(device string) error {
	return engine.Hardf(engine.KindUnsupportedByTarget,
		"not enough information in the device index to build a bootloader project for device '%s'", device).
		WithParam("target.device_name")
}
