package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/gallery/persist"
)

// openGallery loads the gallery from the configured backend into an in-memory
// store. Postgres is used when DATABASE_URL is set, the JSON file store
// otherwise. A corrupt snapshot is not fatal: recovery already salvaged what
// it could and the store starts from that.
func openGallery(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gallery.Store, persist.Store, func(), error) {
	var (
		backend persist.Store
		closer  = func() {}
	)

	if cfg.Database.URL != "" {
		pg, err := persist.NewPostgresStore(ctx, &cfg.Database, cfg.Extractor.Dim, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		backend = pg
		closer = pg.Close
	} else {
		backend = persist.NewFileStore(cfg.Gallery.Path, log)
	}

	profiles, err := backend.Load(ctx)
	if err != nil && !errors.Is(err, persist.ErrCorruptSnapshot) {
		closer()
		return nil, nil, nil, fmt.Errorf("loading gallery: %w", err)
	}

	store := gallery.NewStore(cfg.Tuning, log)
	store.Replace(profiles)
	return store, backend, closer, nil
}

// saveGallery writes the store's current profiles back to the backend.
func saveGallery(ctx context.Context, backend persist.Store, store *gallery.Store) error {
	if err := backend.Save(ctx, store.Export()); err != nil {
		return fmt.Errorf("saving gallery: %w", err)
	}
	return nil
}
