package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		StoreDriver:           StoreDriverMemory,
		MemoryVehicleIDs:      []string{"veh-1"},
		MongoConnTimeout:      DefaultMongoConnTimeout,
		Port:                  DefaultPort,
		RateLimitRequests:     DefaultRateLimitRequests,
		RateLimitWindow:       DefaultRateLimitWindow,
		RequestTimeout:        DefaultRequestTimeout,
		IdempotencyTTL:        DefaultIdempotencyTTL,
		MaxRequestSize:        DefaultMaxRequestSize,
		ReadTimeout:           DefaultReadTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		IdleTimeout:           DefaultIdleTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		AtomicTimeout:         DefaultAtomicTimeout,
		BookingMaxAttempts:    DefaultBookingMaxAttempts,
		BookingRetryBaseDelay: DefaultBookingRetryBaseDelay,
		BookingRetryMaxDelay:  DefaultBookingRetryMaxDelay,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory defaults", mutate: func(*Config) {}},
		{
			name: "mongo ok",
			mutate: func(c *Config) {
				c.StoreDriver = StoreDriverMongo
				c.MongoURI = DefaultMongoURI
				c.MongoDatabaseName = DefaultMongoDatabaseName
			},
		},
		{
			name: "mongo bad uri",
			mutate: func(c *Config) {
				c.StoreDriver = StoreDriverMongo
				c.MongoURI = "http://localhost"
				c.MongoDatabaseName = "x"
			},
			wantErr: "MongoURI must start with",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.StoreDriver = StoreDriverPostgres
				c.PostgresMaxConns = 4
			},
			wantErr: "PostgresDSN cannot be empty",
		},
		{name: "memory without vehicles", mutate: func(c *Config) { c.MemoryVehicleIDs = nil }, wantErr: "MemoryVehicleIDs"},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "redis" }, wantErr: "StoreDriver must be one of"},
		{name: "bad port", mutate: func(c *Config) { c.Port = "99999" }, wantErr: "Port must be between"},
		{name: "zero attempts", mutate: func(c *Config) { c.BookingMaxAttempts = 0 }, wantErr: "BookingMaxAttempts"},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.BookingRetryMaxDelay = time.Millisecond },
			wantErr: "BookingRetryMaxDelay",
		},
		{name: "no atomic budget", mutate: func(c *Config) { c.AtomicTimeout = 0 }, wantErr: "AtomicTimeout must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Port = "abc"
	cfg.RequestTimeout = 0
	cfg.MaxRequestSize = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "1. ") && strings.Contains(err.Error(), "3. "))
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "mongodb://***:***@db:27017", redactURI("mongodb://admin:s3cret@db:27017"))
	assert.Equal(t, "postgres://***:***@pg:5432/carrental", redactURI("postgres://app:pw@pg:5432/carrental"))
	assert.Equal(t, "mongodb://localhost:27017", redactURI("mongodb://localhost:27017"))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CARRENTAL_TEST_NUM", "7")
	t.Setenv("CARRENTAL_TEST_DUR", "250ms")
	t.Setenv("CARRENTAL_TEST_BOOL", "true")
	t.Setenv("CARRENTAL_TEST_BAD", "nope")

	assert.Equal(t, 7, getEnvNum("CARRENTAL_TEST_NUM", 1))
	assert.Equal(t, 1, getEnvNum("CARRENTAL_TEST_BAD", 1))
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("CARRENTAL_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("CARRENTAL_TEST_BAD", time.Second))
	assert.True(t, getEnvBool("CARRENTAL_TEST_BOOL", false))
	assert.False(t, getEnvBool("CARRENTAL_TEST_BAD", false))
	assert.Equal(t, "fallback", getEnvStr("CARRENTAL_TEST_UNSET", "fallback"))

	t.Setenv("CARRENTAL_TEST_LIST", " veh-1, ,veh-2 ")
	assert.Equal(t, []string{"veh-1", "veh-2"}, getEnvList("CARRENTAL_TEST_LIST"))
	assert.Empty(t, getEnvList("CARRENTAL_TEST_UNSET"))
}

func TestNormalizePagination(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NormalizePaginationLimit(0))
	assert.Equal(t, 25, NormalizePaginationLimit(25))
	assert.Equal(t, DefaultPaginationLimit, NormalizePaginationLimit(5000))
	assert.Equal(t, int64(0), NormalizeOffset(-4))
}
