package datapackage

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pvarki/takrmapi/config"
)

// ViteRequests lists every entry of the configured vite asset set as a
// package request. A disabled set yields nothing; a missing folder is
// logged and yields nothing.
func ViteRequests(s *config.Settings, log *slog.Logger) ([]DataPackageRequest, error) {
	if !s.ViteEnabled() {
		return nil, nil
	}
	root := s.PackageRoots()[config.PackageVite].Default
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("Vite asset folder missing, unable to list content", "path", root)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reqs := make([]DataPackageRequest, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, DataPackageRequest{TemplatePath: e.Name(), Type: config.PackageVite})
	}
	return reqs, nil
}
