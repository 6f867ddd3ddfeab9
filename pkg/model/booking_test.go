package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(start, end string) DateRange {
	return DateRange{StartDate: day(start), EndDate: day(end)}
}

func TestDateRange_Overlaps(t *testing.T) {
	existing := rng("2024-06-01", "2024-06-05")

	tests := []struct {
		name      string
		candidate DateRange
		want      bool
	}{
		{"identical", rng("2024-06-01", "2024-06-05"), true},
		{"starts on existing end day", rng("2024-06-05", "2024-06-10"), false},
		{"ends on existing start day", rng("2024-05-28", "2024-06-01"), false},
		{"straddles end", rng("2024-06-04", "2024-06-06"), true},
		{"straddles start", rng("2024-05-30", "2024-06-02"), true},
		{"contained", rng("2024-06-02", "2024-06-03"), true},
		{"contains", rng("2024-05-01", "2024-07-01"), true},
		{"entirely before", rng("2024-05-01", "2024-05-10"), false},
		{"entirely after", rng("2024-06-20", "2024-06-25"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.candidate.Overlaps(existing))
			assert.Equal(t, tt.want, existing.Overlaps(tt.candidate), "overlap must be symmetric")
		})
	}
}

func TestParseDate(t *testing.T) {
	t.Run("calendar date", func(t *testing.T) {
		got, err := ParseDate("2024-06-01")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("rfc3339 drops time of day", func(t *testing.T) {
		got, err := ParseDate("2024-06-01T17:45:00+03:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseDate("next tuesday")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseDate("  ")
		assert.Error(t, err)
	})
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-06-01", "2024-06-05")
	require.NoError(t, err)
	assert.Equal(t, "[2024-06-01, 2024-06-05)", r.String())

	_, err = ParseDateRange("2024-06-05", "2024-06-05")
	assert.Error(t, err, "zero-length range")

	_, err = ParseDateRange("2024-06-06", "2024-06-05")
	assert.Error(t, err, "inverted range")

	_, err = ParseDateRange("2024-06-01", "tomorrow")
	assert.Error(t, err)
}

func TestDateRange_JSON(t *testing.T) {
	in := rng("2024-06-01", "2024-06-05")

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start_date":"2024-06-01","end_date":"2024-06-05"}`, string(data))

	var out DateRange
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.StartDate.Equal(out.StartDate))
	assert.True(t, in.EndDate.Equal(out.EndDate))

	var result AvailabilityResult
	body := `{"available":false,"conflicts":[{"start_date":"2024-06-01","end_date":"2024-06-05"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "[2024-06-01, 2024-06-05)", result.Conflicts[0].String())

	assert.Error(t, json.Unmarshal([]byte(`{"start_date":"June 1","end_date":"2024-06-05"}`), &out))
}

func TestBookingStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		allowed  bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBookingStatus_ActiveSet(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusConfirmed.IsActive())
	assert.False(t, StatusCancelled.IsActive())
	assert.False(t, StatusCompleted.IsActive())

	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, BookingStatus("archived").IsValid())
}

func TestBooking_OwnedBy(t *testing.T) {
	owner := "user-1"
	b := &Booking{UserID: &owner}
	assert.True(t, b.OwnedBy("user-1"))
	assert.False(t, b.OwnedBy("user-2"))
	assert.False(t, b.OwnedBy(""))

	guest := &Booking{}
	assert.False(t, guest.OwnedBy("user-1"))
}

func TestPaymentConfirmation_ToCreateRequest(t *testing.T) {
	p := &PaymentConfirmation{
		SessionID: "cs_test_123",
		UserID:    "user-1",
		Booking: PaymentBookingData{
			VehicleID:  "veh-1",
			StartDate:  "2024-06-01",
			EndDate:    "2024-06-05",
			TotalPrice: 320,
		},
	}

	req := p.ToCreateRequest()
	assert.Equal(t, "cs_test_123", req.ExternalPaymentRef)
	assert.Equal(t, "veh-1", req.VehicleID)
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, 320.0, req.TotalPrice)
}
