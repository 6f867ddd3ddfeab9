package validator

import (
	"errors"
	"strings"
	"testing"

	"carrental/pkg/logger"
	"carrental/pkg/model"
)

func newTestValidator() *BookingValidator {
	return NewBookingValidator(logger.New(logger.Config{
		Level:   "error",
		Format:  logger.JSON,
		Service: "test",
	}))
}

func validRequest() *model.CreateBookingRequest {
	return &model.CreateBookingRequest{
		VehicleID:      "veh-1",
		StartDate:      "2024-06-01",
		EndDate:        "2024-06-05",
		PickupLocation: "Airport terminal 2",
		PickupTime:     "09:30",
		Email:          "driver@example.com",
		Phone:          "+14155552671",
		TotalPrice:     320,
	}
}

func TestValidate(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		mutate    func(*model.CreateBookingRequest)
		wantField string
	}{
		{name: "valid", mutate: func(*model.CreateBookingRequest) {}},
		{name: "missing vehicle", mutate: func(r *model.CreateBookingRequest) { r.VehicleID = "" }, wantField: "vehicle_id"},
		{name: "missing start date", mutate: func(r *model.CreateBookingRequest) { r.StartDate = "" }, wantField: "start_date"},
		{name: "bad email", mutate: func(r *model.CreateBookingRequest) { r.Email = "nope" }, wantField: "email"},
		{name: "phone not e164", mutate: func(r *model.CreateBookingRequest) { r.Phone = "0501234567" }, wantField: "phone"},
		{name: "pickup time 24h overflow", mutate: func(r *model.CreateBookingRequest) { r.PickupTime = "24:10" }, wantField: "pickup_time"},
		{name: "pickup time no colon", mutate: func(r *model.CreateBookingRequest) { r.PickupTime = "0930" }, wantField: "pickup_time"},
		{name: "negative price", mutate: func(r *model.CreateBookingRequest) { r.TotalPrice = -1 }, wantField: "total_price"},
		{name: "short location", mutate: func(r *model.CreateBookingRequest) { r.PickupLocation = "A" }, wantField: "pickup_location"},
		{name: "guest booking", mutate: func(r *model.CreateBookingRequest) { r.UserID = "" }},
		{name: "with payment ref", mutate: func(r *model.CreateBookingRequest) { r.ExternalPaymentRef = "cs_test_1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := v.Validate(req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidationErrors", err)
			}
			if _, ok := verrs.Details()[tt.wantField]; !ok {
				t.Errorf("expected error on field %q, got %v", tt.wantField, verrs)
			}
		})
	}
}

func TestValidateDetails(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidateDetails(&model.BookingDetailsUpdate{}); err == nil {
		t.Error("empty update should be rejected")
	}

	notes := "child seat please"
	if err := v.ValidateDetails(&model.BookingDetailsUpdate{Notes: &notes}); err != nil {
		t.Errorf("notes-only update should pass, got %v", err)
	}

	badTime := "7pm"
	err := v.ValidateDetails(&model.BookingDetailsUpdate{PickupTime: &badTime})
	if err == nil || !strings.Contains(err.Error(), "pickup_time") {
		t.Errorf("expected pickup_time error, got %v", err)
	}
}

func TestValidateStatus(t *testing.T) {
	v := newTestValidator()

	for _, s := range []model.BookingStatus{model.StatusPending, model.StatusConfirmed, model.StatusCancelled, model.StatusCompleted} {
		if err := v.ValidateStatus(s); err != nil {
			t.Errorf("ValidateStatus(%s) unexpected error: %v", s, err)
		}
	}
	if err := v.ValidateStatus("archived"); err == nil {
		t.Error("ValidateStatus(archived) should fail")
	}
}

func TestValidatePaymentConfirmation(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidatePaymentConfirmation(&model.PaymentConfirmation{}); err == nil {
		t.Error("missing session id should fail")
	}

	p := &model.PaymentConfirmation{
		SessionID: "cs_live_1",
		Booking:   model.PaymentBookingData{VehicleID: "veh-1"},
	}
	if err := v.ValidatePaymentConfirmation(p); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
