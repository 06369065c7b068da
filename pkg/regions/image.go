package regions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// FileInspector is an ImageInspector for files on disk. Files with a .hex
// extension are parsed as Intel HEX; anything else is a raw binary loaded
// at the given offset.
type FileInspector struct{}

// Inspect implements engine.ImageInspector. Open errors are returned
// unwrapped so that os.IsNotExist applies.
func (FileInspector) Inspect(path string, offset uint64) (engine.ImageExtent, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.ImageExtent{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".hex") {
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(f); err != nil {
			return engine.ImageExtent{}, fmt.Errorf("failed to parse Intel HEX image %s: %w", path, err)
		}
		return hexExtent(path, mem.GetDataSegments())
	}

	info, err := f.Stat()
	if err != nil {
		return engine.ImageExtent{}, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if info.Size() == 0 {
		return engine.ImageExtent{}, fmt.Errorf("image %s is empty", path)
	}
	return engine.ImageExtent{
		MinAddr: offset,
		MaxAddr: offset + uint64(info.Size()) - 1,
	}, nil
}

func hexExtent(path string, segments []gohex.DataSegment) (engine.ImageExtent, error) {
	var ext engine.ImageExtent
	found := false
	for _, seg := range segments {
		if len(seg.Data) == 0 {
			continue
		}
		lo := uint64(seg.Address)
		hi := lo + uint64(len(seg.Data)) - 1
		if !found || lo < ext.MinAddr {
			ext.MinAddr = lo
		}
		if !found || hi > ext.MaxAddr {
			ext.MaxAddr = hi
		}
		found = true
	}
	if !found {
		return engine.ImageExtent{}, fmt.Errorf("image %s contains no data", path)
	}
	return ext, nil
}
