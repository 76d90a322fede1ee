package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// MaybeRunDev applies the embedded migrations in dev when auto-migrate is on. SQLite databases are
// skipped; their schema is created by the test harness.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate || cfg.FeatureFlags.UseSQLite {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "source", "embedded")
	logg.Info(ctx, "migrate.dev.start")
	if err := Run(ctx, sqlDB, "", "up", nil); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "migrate.dev.complete")
	return nil
}
