package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: DEBUG, Output: &buf, Service: "bookings"})

	log.Debug("vehicle locked", "vehicle_id", "veh-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bookings", entry[SERVICE])
	assert.Equal(t, "veh-1", entry["vehicle_id"])
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: WARN, Format: TEXT, Output: &buf})

	log.Info("dropped")
	log.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.True(t, strings.Contains(buf.String(), "msg=kept"))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf}).With("booking_id", "b-1")

	log.Info("confirmed")

	assert.Contains(t, buf.String(), `"booking_id":"b-1"`)
}

func TestContextHelpers(t *testing.T) {
	fallback := Discard()
	ctx := context.Background()

	assert.Same(t, fallback, FromContext(ctx, fallback))
	assert.Empty(t, RequestIDFromContext(ctx))

	scoped := fallback.With("request_id", "abc")
	ctx = IntoContext(WithRequestID(ctx, "abc"), scoped)

	assert.Same(t, scoped, FromContext(ctx, fallback))
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
}
