package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pvarki/takrmapi/interfaces"
)

// MultiStore implements interfaces.TemplateStore over mirrored stores.
// Reads go to the first available store that succeeds.
type MultiStore struct {
	stores []interfaces.TemplateStore
	log    *slog.Logger
}

// NewMultiStore creates a template store with fallback across mirrors.
func NewMultiStore(stores []interfaces.TemplateStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// List returns the listing of the first available store that can list.
func (m *MultiStore) List(ctx context.Context) ([]string, error) {
	var errs []error

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable", slog.String("store_name", store.Name()))
			continue
		}

		paths, err := store.List(ctx)
		if err == nil {
			return paths, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		m.log.Debug("Failed to list store",
			slog.String("store_name", store.Name()),
			"err", err)
	}

	return nil, fmt.Errorf("%w: all stores failed to list: %w", interfaces.ErrBackendUnavailable, errors.Join(errs...))
}

// Fetch returns the file from the first available store that has it.
// ErrContentNotFound is returned only when every reachable store reports
// the file missing.
func (m *MultiStore) Fetch(ctx context.Context, relPath string) ([]byte, error) {
	start := time.Now()
	var errs []error
	missing := 0

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable",
				slog.String("store_name", store.Name()),
				slog.String("path", relPath))
			continue
		}

		data, err := store.Fetch(ctx, relPath)
		if err == nil {
			m.log.Debug("Fetched content",
				slog.String("store_name", store.Name()),
				slog.String("path", relPath),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrContentNotFound) {
			missing++
		}
		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
	}

	if missing > 0 && missing == len(errs) {
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All stores failed to fetch content",
		slog.String("path", relPath),
		slog.Int("failed_stores", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all stores failed to fetch %s: %w", relPath, errors.Join(errs...))
}

// Available checks if any store is available.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, store := range m.stores {
		if store.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the names of the mirrored stores.
func (m *MultiStore) Name() string {
	names := make([]string, 0, len(m.stores))
	for _, store := range m.stores {
		names = append(names, store.Name())
	}
	return "multi:[" + strings.Join(names, ",") + "]"
}
