package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pvarki/takrmapi/interfaces"
	"golang.org/x/sync/errgroup"
)

// SyncParallelism bounds concurrent fetches during SyncOverlay.
const SyncParallelism = 4

// SyncOverlay copies every file of store below dstDir and returns the
// number of files written. Paths escaping dstDir are skipped. Each file is
// written to a temporary name and renamed into place so readers never see a
// partial file.
func SyncOverlay(ctx context.Context, store interfaces.TemplateStore, dstDir string, log *slog.Logger) (int, error) {
	paths, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", store.Name(), err)
	}

	var files []string
	for _, rel := range paths {
		local := filepath.FromSlash(rel)
		if !filepath.IsLocal(local) {
			log.Warn("Skipping non-local overlay path", "store", store.Name(), "path", rel)
			continue
		}
		files = append(files, local)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(SyncParallelism)
	for _, local := range files {
		local := local
		g.Go(func() error {
			data, err := store.Fetch(gctx, filepath.ToSlash(local))
			if err != nil {
				return fmt.Errorf("fetching %s: %w", local, err)
			}
			return writeFileAtomic(filepath.Join(dstDir, local), data)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	log.Info("Template overlay synced", "store", store.Name(), "dst", dstDir, "files", len(files))
	return len(files), nil
}

func writeFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".overlay-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
