package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/pkg/config"
	mongotx "carrental/pkg/db/mongo"
	"carrental/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	BookingsCollection = "Bookings"
	VehiclesCollection = "Vehicles"
)

type mongoReservationStore struct {
	cfg       *config.Config
	client    *mongo.Client
	bookings  *mongo.Collection
	vehicles  *mongo.Collection
	locks     VehicleLockRepository
	txManager mongotx.TransactionManager
}

func NewMongoReservationStore(cfg *config.Config) ReservationStore {
	client := cfg.Client.Mongo
	db := client.Database(cfg.MongoDatabaseName)
	return &mongoReservationStore{
		cfg:       cfg,
		client:    client,
		bookings:  db.Collection(BookingsCollection),
		vehicles:  db.Collection(VehiclesCollection),
		locks:     NewVehicleLockRepository(db),
		txManager: mongotx.NewTransactionManager(client),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// Inside a transaction the RunAtomic budget already applies.
func (r *mongoReservationStore) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}

// classify maps driver errors onto the store's error kinds.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case mongotx.IsTransient(err):
		return fmt.Errorf("%w: %s: %v", bookingserrors.ErrTransient, op, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		bookingserrors.ErrTransient,
		bookingserrors.ErrConflict,
		bookingserrors.ErrDuplicatePaymentRef,
		bookingserrors.ErrVehicleNotFound,
		bookingserrors.ErrNotFound,
		bookingserrors.ErrInvalidID,
		bookingserrors.ErrStatusChanged,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (r *mongoReservationStore) VehicleExists(ctx context.Context, vehicleID string) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		return false, nil
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.vehicles.CountDocuments(ctx, bson.M{"_id": objectID}, options.Count().SetLimit(1))
	if err != nil {
		return false, classify("check vehicle", err)
	}
	return count > 0, nil
}

func activeStatuses() bson.A {
	statuses := make(bson.A, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		statuses = append(statuses, s)
	}
	return statuses
}

func (r *mongoReservationStore) FindActiveBookingsOverlapping(ctx context.Context, vehicleID string, dr model.DateRange) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"vehicle_id": vehicleID,
		"status":     bson.M{"$in": activeStatuses()},
		"start_date": bson.M{"$lt": dr.EndDate},
		"end_date":   bson.M{"$gt": dr.StartDate},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}})

	return r.find(ctx, "find overlapping bookings", filter, opts)
}

func (r *mongoReservationStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*model.Booking, error) {
	cursor, err := r.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cursor.Close(ctx)

	bookings := []*model.Booking{}
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, classify(op, err)
	}
	return bookings, nil
}

func (r *mongoReservationStore) NewBookingID() string {
	return primitive.NewObjectID().Hex()
}

func (r *mongoReservationStore) InsertBooking(ctx context.Context, booking *model.Booking) (string, error) {
	exists, err := r.VehicleExists(ctx, booking.VehicleID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", bookingserrors.ErrVehicleNotFound, booking.VehicleID)
	}

	oid := primitive.NewObjectID()
	if booking.ID != "" {
		if oid, err = primitive.ObjectIDFromHex(booking.ID); err != nil {
			return "", fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, booking.ID)
		}
	}

	if err := r.lockVehicle(ctx, booking.VehicleID); err != nil {
		return "", err
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	if booking.Status == "" {
		booking.Status = model.StatusPending
	}
	booking.ID = ""
	booking.CreatedAt = now
	booking.UpdatedAt = now

	doc, err := bookingDocument(booking, oid)
	if err != nil {
		return "", fmt.Errorf("failed to encode booking: %w", err)
	}

	if _, err := r.bookings.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && booking.ExternalPaymentRef != nil {
			return "", fmt.Errorf("%w: %s", bookingserrors.ErrDuplicatePaymentRef, *booking.ExternalPaymentRef)
		}
		return "", classify("insert booking", err)
	}

	booking.ID = oid.Hex()
	return booking.ID, nil
}

// bookingDocument encodes booking with _id stored as an ObjectID.
func bookingDocument(booking *model.Booking, id primitive.ObjectID) (bson.D, error) {
	raw, err := bson.Marshal(booking)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return append(bson.D{{Key: "_id", Value: id}}, fields...), nil
}

// lockVehicle bumps the vehicle's lock document when ctx is inside a reservation
// transaction. A concurrent transaction that also inserts for the vehicle then
// fails with a write conflict. Blocks that end in a conflict never write it.
func (r *mongoReservationStore) lockVehicle(ctx context.Context, vehicleID string) error {
	sessCtx, ok := ctx.(mongo.SessionContext)
	if !ok {
		return nil
	}
	lock, err := r.locks.Touch(sessCtx, vehicleID)
	if err != nil {
		return classify("lock vehicle", err)
	}
	r.cfg.Log.Debug("Vehicle locked for reservation", "vehicle_id", vehicleID, "lock_version", lock.Version)
	return nil
}

func (r *mongoReservationStore) RunAtomic(ctx context.Context, vehicleID string, fn AtomicFunc) error {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.AtomicTimeout)
	defer cancel()

	err := r.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
	return classify("run reservation transaction", err)
}

func (r *mongoReservationStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}
	return r.findOne(ctx, "find booking", bson.M{"_id": objectID})
}

func (r *mongoReservationStore) FindByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	return r.findOne(ctx, "find booking by payment reference", bson.M{"external_payment_ref": ref})
}

func (r *mongoReservationStore) findOne(ctx context.Context, op string, filter bson.M) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var booking model.Booking
	if err := r.bookings.FindOne(ctx, filter).Decode(&booking); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, classify(op, err)
	}
	return &booking, nil
}

func newestFirst(limit int, offset int64) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)
}

func (r *mongoReservationStore) FindByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()
	return r.find(ctx, "find user bookings", bson.M{"user_id": userID}, newestFirst(limit, offset))
}

func (r *mongoReservationStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.bookings.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, classify("count user bookings", err)
	}
	return count, nil
}

func (r *mongoReservationStore) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()
	return r.find(ctx, "find bookings", bson.M{}, newestFirst(limit, offset))
}

func (r *mongoReservationStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.bookings.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, classify("count bookings", err)
	}
	return count, nil
}

func (r *mongoReservationStore) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": objectID, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC().Truncate(time.Millisecond)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var booking model.Booking
	err = r.bookings.FindOneAndUpdate(ctx, filter, update, opts).Decode(&booking)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", bookingserrors.ErrStatusChanged, from, current.Status)
	}
	if err != nil {
		return nil, classify("update booking status", err)
	}
	return &booking, nil
}

func (r *mongoReservationStore) UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	set := bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)}
	if update.PickupLocation != nil {
		set["pickup_location"] = *update.PickupLocation
	}
	if update.PickupTime != nil {
		set["pickup_time"] = *update.PickupTime
	}
	if update.Email != nil {
		set["email"] = *update.Email
	}
	if update.Phone != nil {
		set["phone"] = *update.Phone
	}
	if update.Notes != nil {
		set["notes"] = *update.Notes
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var booking model.Booking
	err = r.bookings.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, bson.M{"$set": set}, opts).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, classify("update booking details", err)
	}
	return &booking, nil
}

func (r *mongoReservationStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()
	return r.client.Ping(ctx, nil)
}
