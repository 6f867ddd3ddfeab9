package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DateRange is an end-exclusive span of calendar days.
type DateRange struct {
	StartDate time.Time `json:"start_date" bson:"start_date"`
	EndDate   time.Time `json:"end_date" bson:"end_date"`
}

// Overlaps reports whether [r.StartDate, r.EndDate) and [o.StartDate, o.EndDate) share a day.
// A range starting on the day another ends does not overlap it.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.StartDate.Before(o.EndDate) && r.EndDate.After(o.StartDate)
}

func (r DateRange) IsValid() bool {
	return r.StartDate.Before(r.EndDate)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.StartDate.Format(DateLayout), r.EndDate.Format(DateLayout))
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}{r.StartDate.Format(DateLayout), r.EndDate.Format(DateLayout)})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseDate(raw.StartDate)
	if err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(raw.EndDate)
	if err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	r.StartDate, r.EndDate = start, end
	return nil
}

// ParseDate accepts "YYYY-MM-DD" or RFC3339 and returns the calendar day at 00:00 UTC.
// For RFC3339 input the day is taken in the timestamp's own offset.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", value)
	}
	return TruncateToDay(t), nil
}

func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDateRange parses both bounds and requires start strictly before end.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("start_date: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("end_date: %w", err)
	}
	r := DateRange{StartDate: s, EndDate: e}
	if !r.IsValid() {
		return DateRange{}, fmt.Errorf("start_date %s must be before end_date %s", s.Format(DateLayout), e.Format(DateLayout))
	}
	return r, nil
}
