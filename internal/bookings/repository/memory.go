package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/pkg/model"

	"github.com/google/uuid"
)

type memoryTxKey struct{}

// memoryTx buffers the inserts of one RunAtomic block until it commits.
type memoryTx struct {
	vehicleID string
	staged    []*model.Booking
}

// MemoryStore is a ReservationStore kept in process memory. Each vehicle has its
// own lock, so atomic blocks for different vehicles run in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	vehicles map[string]model.Vehicle
	bookings map[string]*model.Booking
	order    []string
	byRef    map[string]string

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	atomicTimeout time.Duration
}

func NewMemoryStore(atomicTimeout time.Duration, vehicleIDs ...string) *MemoryStore {
	s := &MemoryStore{
		vehicles:      make(map[string]model.Vehicle),
		bookings:      make(map[string]*model.Booking),
		byRef:         make(map[string]string),
		locks:         make(map[string]chan struct{}),
		atomicTimeout: atomicTimeout,
	}
	for _, id := range vehicleIDs {
		s.AddVehicle(id)
	}
	return s
}

func (s *MemoryStore) AddVehicle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		s.vehicles[id] = model.Vehicle{ID: id, CreatedAt: time.Now().UTC()}
	}
}

func (s *MemoryStore) vehicleLock(vehicleID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[vehicleID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[vehicleID] = lock
	}
	return lock
}

func (s *MemoryStore) acquire(ctx context.Context, vehicleID string) (func(), error) {
	lock := s.vehicleLock(vehicleID)
	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for vehicle %s: %v", bookingserrors.ErrTransient, vehicleID, ctx.Err())
	}
}

func txFromContext(ctx context.Context) *memoryTx {
	tx, _ := ctx.Value(memoryTxKey{}).(*memoryTx)
	return tx
}

func (s *MemoryStore) VehicleExists(_ context.Context, vehicleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vehicles[vehicleID]
	return ok, nil
}

func (s *MemoryStore) FindActiveBookingsOverlapping(ctx context.Context, vehicleID string, r model.DateRange) ([]*model.Booking, error) {
	s.mu.RLock()
	var out []*model.Booking
	for _, id := range s.order {
		b := s.bookings[id]
		if b.VehicleID == vehicleID && b.Status.IsActive() && b.Range().Overlaps(r) {
			out = append(out, cloneBooking(b))
		}
	}
	s.mu.RUnlock()

	if tx := txFromContext(ctx); tx != nil && tx.vehicleID == vehicleID {
		for _, b := range tx.staged {
			if b.Status.IsActive() && b.Range().Overlaps(r) {
				out = append(out, cloneBooking(b))
			}
		}
	}

	slices.SortFunc(out, func(a, b *model.Booking) int { return a.StartDate.Compare(b.StartDate) })
	return out, nil
}

func (s *MemoryStore) NewBookingID() string {
	return uuid.NewString()
}

func (s *MemoryStore) InsertBooking(ctx context.Context, booking *model.Booking) (string, error) {
	if exists, _ := s.VehicleExists(ctx, booking.VehicleID); !exists {
		return "", fmt.Errorf("%w: %s", bookingserrors.ErrVehicleNotFound, booking.VehicleID)
	}

	now := time.Now().UTC()
	stored := cloneBooking(booking)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = model.StatusPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if tx := txFromContext(ctx); tx != nil {
		if tx.vehicleID != booking.VehicleID {
			return "", fmt.Errorf("atomic block for vehicle %s cannot insert for vehicle %s", tx.vehicleID, booking.VehicleID)
		}
		if err := s.checkRef(stored, tx.staged); err != nil {
			return "", err
		}
		tx.staged = append(tx.staged, stored)
	} else {
		release, err := s.acquire(ctx, booking.VehicleID)
		if err != nil {
			return "", err
		}
		defer release()

		s.mu.Lock()
		err = s.commitLocked([]*model.Booking{stored})
		s.mu.Unlock()
		if err != nil {
			return "", err
		}
	}

	booking.ID = stored.ID
	booking.Status = stored.Status
	booking.CreatedAt = stored.CreatedAt
	booking.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

func (s *MemoryStore) checkRef(b *model.Booking, staged []*model.Booking) error {
	if b.ExternalPaymentRef == nil {
		return nil
	}
	ref := *b.ExternalPaymentRef
	s.mu.RLock()
	_, taken := s.byRef[ref]
	s.mu.RUnlock()
	if taken {
		return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicatePaymentRef, ref)
	}
	for _, other := range staged {
		if other.ExternalPaymentRef != nil && *other.ExternalPaymentRef == ref {
			return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicatePaymentRef, ref)
		}
	}
	return nil
}

// commitLocked writes all bookings or none. Caller holds s.mu.
func (s *MemoryStore) commitLocked(bookings []*model.Booking) error {
	for _, b := range bookings {
		if b.ExternalPaymentRef == nil {
			continue
		}
		if _, taken := s.byRef[*b.ExternalPaymentRef]; taken {
			return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicatePaymentRef, *b.ExternalPaymentRef)
		}
	}
	for _, b := range bookings {
		s.bookings[b.ID] = b
		s.order = append(s.order, b.ID)
		if b.ExternalPaymentRef != nil {
			s.byRef[*b.ExternalPaymentRef] = b.ID
		}
	}
	return nil
}

func (s *MemoryStore) RunAtomic(ctx context.Context, vehicleID string, fn AtomicFunc) error {
	if tx := txFromContext(ctx); tx != nil {
		if tx.vehicleID != vehicleID {
			return fmt.Errorf("nested atomic block for vehicle %s inside block for %s", vehicleID, tx.vehicleID)
		}
		return fn(ctx)
	}

	if s.atomicTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.atomicTimeout)
		defer cancel()
	}

	release, err := s.acquire(ctx, vehicleID)
	if err != nil {
		return err
	}
	defer release()

	tx := &memoryTx{vehicleID: vehicleID}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: atomic block for vehicle %s: %v", bookingserrors.ErrTransient, vehicleID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(tx.staged)
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *MemoryStore) FindByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	if tx := txFromContext(ctx); tx != nil {
		for _, b := range tx.staged {
			if b.ExternalPaymentRef != nil && *b.ExternalPaymentRef == ref {
				return cloneBooking(b), nil
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	return cloneBooking(s.bookings[id]), nil
}

func (s *MemoryStore) FindByUser(_ context.Context, userID string, limit int, offset int64) ([]*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(func(b *model.Booking) bool { return b.OwnedBy(userID) }, limit, offset), nil
}

func (s *MemoryStore) CountByUser(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, b := range s.bookings {
		if b.OwnedBy(userID) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindAll(_ context.Context, limit int, offset int64) ([]*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(func(*model.Booking) bool { return true }, limit, offset), nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.bookings)), nil
}

// newestFirst pages through bookings matching keep in reverse insertion order. Caller holds s.mu.
func (s *MemoryStore) newestFirst(keep func(*model.Booking) bool, limit int, offset int64) []*model.Booking {
	out := make([]*model.Booking, 0, limit)
	var skipped int64
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		b := s.bookings[s.order[i]]
		if !keep(b) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, cloneBooking(b))
	}
	return out
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	if b.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", bookingserrors.ErrStatusChanged, from, b.Status)
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	return cloneBooking(b), nil
}

func (s *MemoryStore) UpdateDetails(_ context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	if update.PickupLocation != nil {
		b.PickupLocation = *update.PickupLocation
	}
	if update.PickupTime != nil {
		b.PickupTime = *update.PickupTime
	}
	if update.Email != nil {
		b.Email = *update.Email
	}
	if update.Phone != nil {
		b.Phone = *update.Phone
	}
	if update.Notes != nil {
		b.Notes = *update.Notes
	}
	b.UpdatedAt = time.Now().UTC()
	return cloneBooking(b), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	if b.UserID != nil {
		userID := *b.UserID
		c.UserID = &userID
	}
	if b.ExternalPaymentRef != nil {
		ref := *b.ExternalPaymentRef
		c.ExternalPaymentRef = &ref
	}
	return &c
}
