package migration

import (
	"github.com/flowvane/creditdesk/internal/config"
	"github.com/flowvane/creditdesk/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			// Embedded migrations are postgres SQL; other dialects are for
			// tests, which migrate their own schema.
			log.Named("migrations").Info("skipping migrations", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.SeedDefaults {
			return seed.EnsureDefaults(conn)
		}

		return nil
	}),
)
