package main

import (
	"context"
	"time"

	mongoMigration "carrental/internal/migrations/mongo"
	postgresMigration "carrental/internal/migrations/postgres"
	"carrental/pkg/config"
)

const JobName = "migrate"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	cfg := config.Load(JobName)
	cfg.Connect()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting migration job", "store", cfg.StoreDriver)

	var err error
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		err = mongoMigration.RunMigration(ctx, cfg.Client.Mongo, cfg.MongoDatabaseName, cfg.Log)
	case config.StoreDriverPostgres:
		err = postgresMigration.RunMigration(ctx, cfg.Client.Postgres, cfg.Log)
	default:
		cfg.Log.Info("Store driver has no schema, nothing to migrate")
		return
	}

	if err != nil {
		cfg.GracefulShutdown()
		cfg.Log.Fatal("Migration failed", "error", err)
	}
	cfg.Log.Info("Migration completed successfully")
}
