package datapackage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
)

// zipDirectory writes the regular files below root into a new archive at
// dst. Member names are relative to root and written in sorted order, so
// unchanged input yields the same member sequence.
func zipDirectory(root, dst string) (err error) {
	var members []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			members = append(members, filepath.ToSlash(rel))
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walking %s: %w", root, walkErr)
	}
	sort.Strings(members)

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range members {
		if err := addZipMember(zw, filepath.Join(root, filepath.FromSlash(name)), name); err != nil {
			return fmt.Errorf("adding %s: %w", name, err)
		}
	}
	return zw.Close()
}

func addZipMember(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
