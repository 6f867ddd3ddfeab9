package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"carrental/internal/bookings/handler"
	"carrental/internal/bookings/repository"
	"carrental/internal/bookings/service"
	"carrental/internal/bookings/validator"
	"carrental/pkg/client"
	"carrental/pkg/config"
	"carrental/pkg/logger"
	"carrental/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *client.BookingClient {
	t.Helper()

	cfg := &config.Config{
		Port:                  "8080",
		RateLimitRequests:     1000,
		RateLimitWindow:       time.Minute,
		RequestTimeout:        5 * time.Second,
		IdempotencyTTL:        time.Minute,
		MaxRequestSize:        1 << 20,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		IdleTimeout:           5 * time.Second,
		ShutdownTimeout:       time.Second,
		AtomicTimeout:         2 * time.Second,
		BookingMaxAttempts:    3,
		BookingRetryBaseDelay: time.Millisecond,
		BookingRetryMaxDelay:  5 * time.Millisecond,
		Log:                   logger.Discard(),
		Client:                client.NewClient(),
	}

	store := repository.NewMemoryStore(cfg.AtomicTimeout, "veh-1", "veh-2")
	svc := service.NewBookingService(store, validator.NewBookingValidator(cfg.Log), nil, cfg)

	application := NewApplication(cfg)
	application.SetApp(
		handler.NewHealthHandler(store, "memory", cfg.Log),
		handler.NewBookingHandler(svc, cfg.Log),
	)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		application.idempotencyStore.Stop()
		application.rateLimiter.Stop()
	})

	return client.NewBookingClient(server.URL)
}

func request(vehicleID, start, end string) *model.CreateBookingRequest {
	return &model.CreateBookingRequest{
		VehicleID:      vehicleID,
		StartDate:      start,
		EndDate:        end,
		PickupLocation: "Airport terminal 2",
		PickupTime:     "09:30",
		Email:          "driver@example.com",
		Phone:          "+1 415 555 2671",
		TotalPrice:     320,
	}
}

func TestEndToEnd_BookingLifecycle(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.HTTP().WaitForHealthy(ctx, time.Second))

	availability, err := c.CheckAvailability(ctx, "veh-1", "2024-06-01", "2024-06-05")
	require.NoError(t, err)
	assert.True(t, availability.Available)

	booking, created, err := c.Create(ctx, request("veh-1", "2024-06-01", "2024-06-05"), "user-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+14155552671", booking.Phone, "phone is normalised to E.164")

	availability, err = c.CheckAvailability(ctx, "veh-1", "2024-06-04", "2024-06-06")
	require.NoError(t, err)
	assert.False(t, availability.Available)
	require.Len(t, availability.Conflicts, 1)

	_, _, err = c.Create(ctx, request("veh-1", "2024-06-05", "2024-06-07"), "user-2")
	require.NoError(t, err, "pickup on the previous return day is allowed")

	_, _, err = c.Create(ctx, request("veh-1", "2024-06-03", "2024-06-04"), "user-2")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	mine, meta, err := c.ListMine(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.TotalCount)
	assert.Equal(t, booking.ID, mine[0].ID)

	confirmed, err := c.UpdateStatus(ctx, booking.ID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, confirmed.Status)

	cancelled, err := c.Cancel(ctx, booking.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	availability, err = c.CheckAvailability(ctx, "veh-1", "2024-06-01", "2024-06-05")
	require.NoError(t, err)
	assert.True(t, availability.Available)
}

func TestEndToEnd_ConcurrentCreatesOneWinner(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	const clients = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Create(ctx, request("veh-2", "2024-09-10", "2024-09-12"), "")
			mu.Lock()
			defer mu.Unlock()
			var apiErr *client.APIError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, clients-1, conflicts)
}

func TestEndToEnd_PaymentRefReplay(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	req := request("veh-1", "2024-07-01", "2024-07-03")
	req.ExternalPaymentRef = "cs_live_42"

	first, created, err := c.Create(ctx, req, "")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := c.Create(ctx, req, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}
