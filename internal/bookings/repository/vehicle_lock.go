package repository

import (
	"context"
	"fmt"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const VehicleLocksCollection = "Vehicle_locks"

// VehicleLockRepository bumps a per-vehicle version document inside a transaction.
// Two concurrent transactions touching the same vehicle conflict on that write,
// which turns the reservation check-then-insert into a serialized section.
type VehicleLockRepository interface {
	Touch(ctx context.Context, vehicleID string) (*model.VehicleLock, error)
}

type mongoVehicleLockRepository struct {
	collection *mongo.Collection
}

func NewVehicleLockRepository(db *mongo.Database) VehicleLockRepository {
	return &mongoVehicleLockRepository{
		collection: db.Collection(VehicleLocksCollection),
	}
}

func (r *mongoVehicleLockRepository) Touch(ctx context.Context, vehicleID string) (*model.VehicleLock, error) {
	update := bson.M{
		"$inc": bson.M{"version": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var lock model.VehicleLock
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": vehicleID}, update, opts).Decode(&lock)
	if err != nil {
		// Two first-ever upserts for one vehicle race on the _id index.
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: vehicle lock %s created concurrently", bookingserrors.ErrTransient, vehicleID)
		}
		return nil, err
	}
	return &lock, nil
}
