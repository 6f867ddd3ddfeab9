package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dateRange(t *testing.T, start, end string) model.DateRange {
	t.Helper()
	r, err := model.ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func newBooking(t *testing.T, vehicleID, start, end string) *model.Booking {
	t.Helper()
	r := dateRange(t, start, end)
	return &model.Booking{
		VehicleID: vehicleID,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Email:     "driver@example.com",
	}
}

func withRef(b *model.Booking, ref string) *model.Booking {
	b.ExternalPaymentRef = &ref
	return b
}

func TestMemoryStore_OverlapIsEndExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1", "veh-2")

	_, err := store.InsertBooking(ctx, newBooking(t, "veh-1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		vehicle string
		start   string
		end     string
		want    int
	}{
		{name: "inside", vehicle: "veh-1", start: "2024-06-11", end: "2024-06-12", want: 1},
		{name: "covering", vehicle: "veh-1", start: "2024-06-01", end: "2024-06-30", want: 1},
		{name: "ends on start day", vehicle: "veh-1", start: "2024-06-05", end: "2024-06-10", want: 0},
		{name: "starts on end day", vehicle: "veh-1", start: "2024-06-15", end: "2024-06-20", want: 0},
		{name: "other vehicle", vehicle: "veh-2", start: "2024-06-11", end: "2024-06-12", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := store.FindActiveBookingsOverlapping(ctx, tt.vehicle, dateRange(t, tt.start, tt.end))
			require.NoError(t, err)
			assert.Len(t, found, tt.want)
		})
	}
}

func TestMemoryStore_InactiveBookingsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1")

	b := newBooking(t, "veh-1", "2024-06-10", "2024-06-15")
	id, err := store.InsertBooking(ctx, b)
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, id, model.StatusPending, model.StatusCancelled)
	require.NoError(t, err)

	found, err := store.FindActiveBookingsOverlapping(ctx, "veh-1", dateRange(t, "2024-06-10", "2024-06-15"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryStore_InsertUnknownVehicle(t *testing.T) {
	store := NewMemoryStore(time.Second, "veh-1")

	_, err := store.InsertBooking(context.Background(), newBooking(t, "veh-9", "2024-06-10", "2024-06-15"))
	assert.True(t, errors.Is(err, bookingserrors.ErrVehicleNotFound))
}

func TestMemoryStore_DuplicatePaymentRef(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1", "veh-2")

	_, err := store.InsertBooking(ctx, withRef(newBooking(t, "veh-1", "2024-06-10", "2024-06-15"), "cs_1"))
	require.NoError(t, err)

	_, err = store.InsertBooking(ctx, withRef(newBooking(t, "veh-2", "2024-06-10", "2024-06-15"), "cs_1"))
	assert.True(t, errors.Is(err, bookingserrors.ErrDuplicatePaymentRef))

	found, err := store.FindByPaymentRef(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "veh-1", found.VehicleID)
}

func TestMemoryStore_AtomicBlockStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1")
	r := dateRange(t, "2024-06-10", "2024-06-15")

	boom := errors.New("boom")
	err := store.RunAtomic(ctx, "veh-1", func(ctx context.Context) error {
		_, err := store.InsertBooking(ctx, withRef(newBooking(t, "veh-1", "2024-06-10", "2024-06-15"), "cs_1"))
		require.NoError(t, err)

		found, err := store.FindActiveBookingsOverlapping(ctx, "veh-1", r)
		require.NoError(t, err)
		assert.Len(t, found, 1, "staged insert is visible inside the block")

		_, err = store.FindByPaymentRef(ctx, "cs_1")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := store.FindActiveBookingsOverlapping(ctx, "veh-1", r)
	require.NoError(t, err)
	assert.Empty(t, found, "rolled back block leaves nothing behind")

	_, err = store.FindByPaymentRef(ctx, "cs_1")
	assert.ErrorIs(t, err, bookingserrors.ErrNotFound)
}

func TestMemoryStore_AtomicSerializesPerVehicle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(5*time.Second, "veh-1")
	r := dateRange(t, "2024-06-10", "2024-06-15")

	const workers = 50
	var (
		wg       sync.WaitGroup
		inserted atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunAtomic(ctx, "veh-1", func(ctx context.Context) error {
				found, err := store.FindActiveBookingsOverlapping(ctx, "veh-1", r)
				if err != nil || len(found) > 0 {
					return err
				}
				_, err = store.InsertBooking(ctx, &model.Booking{VehicleID: "veh-1", StartDate: r.StartDate, EndDate: r.EndDate})
				if err == nil {
					inserted.Add(1)
				}
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inserted.Load())
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_AtomicTimeoutIsTransient(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20*time.Millisecond, "veh-1")

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.RunAtomic(ctx, "veh-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := store.RunAtomic(ctx, "veh-1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, bookingserrors.ErrTransient)

	err = store.RunAtomic(ctx, "veh-2", func(context.Context) error { return nil })
	assert.NoError(t, err, "other vehicles are not blocked")
}

func TestMemoryStore_UpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1")

	id, err := store.InsertBooking(ctx, newBooking(t, "veh-1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)

	updated, err := store.UpdateStatus(ctx, id, model.StatusPending, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, updated.Status)

	_, err = store.UpdateStatus(ctx, id, model.StatusPending, model.StatusCancelled)
	assert.ErrorIs(t, err, bookingserrors.ErrStatusChanged)

	_, err = store.UpdateStatus(ctx, "missing", model.StatusPending, model.StatusCancelled)
	assert.ErrorIs(t, err, bookingserrors.ErrNotFound)
}

func TestMemoryStore_ListingNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1")
	user := "user-1"

	ranges := [][2]string{
		{"2024-06-01", "2024-06-03"},
		{"2024-06-05", "2024-06-07"},
		{"2024-06-09", "2024-06-11"},
	}
	var ids []string
	for i, r := range ranges {
		b := newBooking(t, "veh-1", r[0], r[1])
		if i != 1 {
			b.UserID = &user
		}
		id, err := store.InsertBooking(ctx, b)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := store.FindAll(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[1], all[1].ID)

	rest, err := store.FindAll(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)

	mine, err := store.FindByUser(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	count, err := store.CountByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Second, "veh-1")

	id, err := store.InsertBooking(ctx, newBooking(t, "veh-1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)

	got, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	got.Status = model.StatusCancelled

	again, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, again.Status)
}
