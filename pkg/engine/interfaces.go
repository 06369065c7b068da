package engine

// DeviceIndex resolves the ROM geometry of a device, keyed by the target's
// device_name attribute.
type DeviceIndex interface {
	// Lookup returns the ROM geometry for device.
	Lookup(device string) (ROM, error)
}

// ImageInspector reports the address range of a bootloader image. Raw
// binaries are loaded at offset; Intel HEX files carry their own addresses.
type ImageInspector interface {
	// Inspect opens path and returns the occupied address range. It returns
	// an error satisfying os.IsNotExist when the file does not exist.
	Inspect(path string, offset uint64) (ImageExtent, error)
}

// FeatureSources supplies library documents gated behind features.
type FeatureSources interface {
	// LibrariesFor returns the library documents unlocked by feature. The
	// result must be the same for the same feature on every call.
	LibrariesFor(feature string) ([]*LibraryDoc, error)
}

// FeatureSourcesFunc adapts a function to FeatureSources.
type FeatureSourcesFunc func(feature string) ([]*LibraryDoc, error)

// LibrariesFor implements FeatureSources.
func (f FeatureSourcesFunc) LibrariesFor(feature string) ([]*LibraryDoc, error) {
	return f(feature)
}
