package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/internal/bookings/repository"
	"carrental/internal/bookings/service"
	"carrental/internal/bookings/validator"
	"carrental/pkg/config"
	apperrors "carrental/pkg/errors"
	"carrental/pkg/kafka"
	"carrental/pkg/logger"
	"carrental/pkg/middleware"
	"carrental/pkg/model"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downStore fails every atomic block as if the database were unreachable.
type downStore struct {
	*repository.MemoryStore
}

func (s downStore) RunAtomic(context.Context, string, repository.AtomicFunc) error {
	return fmt.Errorf("%w: server selection timeout", bookingserrors.ErrTransient)
}

func newConfirmer(t *testing.T, store repository.ReservationStore) (*Confirmer, service.BookingService) {
	t.Helper()
	cfg := &config.Config{
		Log:                   logger.Discard(),
		AtomicTimeout:         time.Second,
		BookingMaxAttempts:    2,
		BookingRetryBaseDelay: time.Millisecond,
		BookingRetryMaxDelay:  2 * time.Millisecond,
	}
	v := validator.NewBookingValidator(cfg.Log)
	svc := service.NewBookingService(store, v, nil, cfg)
	return NewConfirmer(svc, v, cfg.Log), svc
}

func confirmation(sessionID, vehicleID, start, end string) *model.PaymentConfirmation {
	return &model.PaymentConfirmation{
		SessionID: sessionID,
		UserID:    "user-1",
		Booking: model.PaymentBookingData{
			VehicleID:      vehicleID,
			StartDate:      start,
			EndDate:        end,
			PickupLocation: "Downtown office",
			PickupTime:     "10:00",
			Email:          "driver@example.com",
			Phone:          "+14155552671",
			TotalPrice:     199.5,
		},
	}
}

func message(t *testing.T, p *model.PaymentConfirmation) kafka.Message {
	t.Helper()
	msg, err := kafka.NewMessage().
		WithKey(p.Booking.VehicleID).
		WithValue(p).
		WithEventType("payment.confirmed").
		Build()
	require.NoError(t, err)
	return msg
}

func TestConfirm_CreatesConfirmedBooking(t *testing.T) {
	confirmer, svc := newConfirmer(t, repository.NewMemoryStore(time.Second, "veh-1"))

	booking, err := confirmer.Confirm(context.Background(), confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, booking.Status)
	require.NotNil(t, booking.ExternalPaymentRef)
	assert.Equal(t, "cs_1", *booking.ExternalPaymentRef)

	stored, err := svc.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestConfirm_RedeliveryIsIdempotent(t *testing.T) {
	confirmer, svc := newConfirmer(t, repository.NewMemoryStore(time.Second, "veh-1"))
	p := confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04")

	first, err := confirmer.Confirm(context.Background(), p)
	require.NoError(t, err)
	second, err := confirmer.Confirm(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.StatusConfirmed, second.Status)

	_, total, err := svc.ListAll(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestConfirm_CancelledBookingIsNotRevived(t *testing.T) {
	confirmer, svc := newConfirmer(t, repository.NewMemoryStore(time.Second, "veh-1"))
	p := confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04")

	booking, err := confirmer.Confirm(context.Background(), p)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), booking.ID, "user-1")
	require.NoError(t, err)

	_, err = confirmer.Confirm(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestHandleMessage_ErrorClassification(t *testing.T) {
	store := repository.NewMemoryStore(time.Second, "veh-1")
	confirmer, _ := newConfirmer(t, store)
	ctx := context.Background()

	require.NoError(t, confirmer.HandleMessage(ctx, message(t, confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04"))))

	tests := []struct {
		name string
		msg  kafka.Message
		want kafka.ErrorType
	}{
		{
			name: "malformed payload",
			msg:  kafka.Message{Key: "veh-1", Value: []byte("{not json")},
			want: kafka.ErrorTypePermanent,
		},
		{
			name: "missing session id",
			msg:  message(t, confirmation("", "veh-1", "2024-08-01", "2024-08-02")),
			want: kafka.ErrorTypePermanent,
		},
		{
			name: "overlapping paid booking",
			msg:  message(t, confirmation("cs_2", "veh-1", "2024-07-03", "2024-07-06")),
			want: kafka.ErrorTypePermanent,
		},
		{
			name: "unknown vehicle",
			msg:  message(t, confirmation("cs_3", "veh-404", "2024-07-03", "2024-07-06")),
			want: kafka.ErrorTypePermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := confirmer.HandleMessage(ctx, tt.msg)
			require.Error(t, err)
			assert.Equal(t, tt.want, kafka.ClassifyError(err))
		})
	}
}

func TestHandleMessage_StoreOutageIsTransient(t *testing.T) {
	confirmer, _ := newConfirmer(t, downStore{repository.NewMemoryStore(time.Second, "veh-1")})

	err := confirmer.HandleMessage(context.Background(), message(t, confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04")))
	require.Error(t, err)
	assert.Equal(t, kafka.ErrorTypeTransient, kafka.ClassifyError(err))
	assert.True(t, errors.Is(err, bookingserrors.ErrUnavailable))
}

func TestWebhook(t *testing.T) {
	const secret = "whsec_test"
	confirmer, _ := newConfirmer(t, repository.NewMemoryStore(time.Second, "veh-1"))

	router := httprouter.New()
	NewWebhookHandler(confirmer, secret, logger.Discard()).RegisterRoutes(router)

	body, err := json.Marshal(confirmation("cs_1", "veh-1", "2024-07-01", "2024-07-04"))
	require.NoError(t, err)

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, ConfirmationsPath, strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(middleware.PaymentSignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("").Code)
	assert.Equal(t, http.StatusUnauthorized, post("deadbeef").Code)

	rec := post("sha256=" + middleware.Sign(body, secret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data model.Booking `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, model.StatusConfirmed, resp.Data.Status)
}

func TestWebhook_DisabledWithoutSecret(t *testing.T) {
	confirmer, _ := newConfirmer(t, repository.NewMemoryStore(time.Second, "veh-1"))

	router := httprouter.New()
	NewWebhookHandler(confirmer, "", logger.Discard()).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ConfirmationsPath, strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
