package datapackage

import (
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/pvarki/takrmapi/config"
)

// PackageInfo describes one top-level entry of a package root.
type PackageInfo struct {
	Type     config.PackageType `json:"type"`
	Name     string             `json:"name"`
	Default  bool               `json:"default"`
	Override bool               `json:"override"`
	Bundle   bool               `json:"bundle"`
}

// ListAvailable enumerates the packages present in the default and
// override roots of every type, sorted by type then name.
func ListAvailable(roots map[config.PackageType]config.Roots) ([]PackageInfo, error) {
	byKey := map[string]*PackageInfo{}
	for pt, r := range roots {
		for tier, dir := range []string{r.Default, r.Override} {
			if dir == "" {
				continue
			}
			entries, err := os.ReadDir(dir)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				key := string(pt) + "/" + e.Name()
				info, ok := byKey[key]
				if !ok {
					info = &PackageInfo{Type: pt, Name: e.Name(), Bundle: e.IsDir()}
					byKey[key] = info
				}
				if tier == 0 {
					info.Default = true
				} else {
					info.Override = true
				}
			}
		}
	}

	out := make([]PackageInfo, 0, len(byKey))
	for _, info := range byKey {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
