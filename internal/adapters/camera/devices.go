package camera

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Device describes a video capture node.
type Device struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
}

const (
	devDir   = "/dev"
	sysfsDir = "/sys/class/video4linux"
)

// ListDevices enumerates /dev/video* nodes with their sysfs names.
func ListDevices() ([]Device, error) {
	return listDevices(devDir, sysfsDir)
}

func listDevices(dev, sysfs string) ([]Device, error) {
	paths, err := filepath.Glob(filepath.Join(dev, "video*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]Device, 0, len(paths))
	for _, p := range paths {
		id := filepath.Base(p)
		d := Device{ID: id, Path: p, Name: id}
		if b, err := os.ReadFile(filepath.Join(sysfs, id, "name")); err == nil {
			if name := strings.TrimSpace(string(b)); name != "" {
				d.Name = name
			}
		}
		out = append(out, d)
	}
	return out, nil
}
