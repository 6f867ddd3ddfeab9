package repository

import (
	"fmt"

	"carrental/pkg/config"
)

// NewReservationStore builds the store selected by STORE_DRIVER. cfg.Connect
// must have opened the matching connection first.
func NewReservationStore(cfg *config.Config) (ReservationStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		if cfg.Client.Mongo == nil {
			return nil, fmt.Errorf("mongo store requires an open MongoDB connection")
		}
		return NewMongoReservationStore(cfg), nil
	case config.StoreDriverPostgres:
		if cfg.Client.Postgres == nil {
			return nil, fmt.Errorf("postgres store requires an open PostgreSQL pool")
		}
		return NewPostgresReservationStore(cfg.Client.Postgres, cfg.AtomicTimeout), nil
	case config.StoreDriverMemory:
		return NewMemoryStore(cfg.AtomicTimeout, cfg.MemoryVehicleIDs...), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
