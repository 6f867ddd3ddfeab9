package model

import "time"

// Vehicle is owned by the inventory service. Bookings only need to know it exists.
type Vehicle struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	Name        string    `json:"name" bson:"name"`
	PricePerDay float64   `json:"price_per_day" bson:"price_per_day"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// VehicleLock is the per-vehicle document every booking transaction writes first,
// so two transactions reserving the same vehicle always collide on it.
type VehicleLock struct {
	VehicleID string    `bson:"_id" json:"vehicle_id"`
	Version   int64     `bson:"version" json:"version"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
