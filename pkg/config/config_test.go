package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Equal(t, 1, cfg.Dashboard.WarmWorkers)
	assert.True(t, cfg.Booking.EnforceWeekday)
	assert.Equal(t, 3, cfg.Booking.MaxRetries)
	assert.Equal(t, "jwt-secret", cfg.Calendar.FeedSecret)
	assert.Equal(t, 90*24*time.Hour, cfg.Calendar.FeedTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOOKING_TIMEZONE", "Asia/Jakarta")
	t.Setenv("BOOKING_HOURLY_RATE", "150000")
	t.Setenv("DASHBOARD_CACHE_TTL", "not-a-duration")
	t.Setenv("CALENDAR_FEED_SECRET", "feed-secret")
	t.Setenv("PUBLIC_BASE_URL", "https://tutor.example.com/")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 150000.0, cfg.Booking.HourlyRate)
	assert.Equal(t, "Asia/Jakarta", cfg.Booking.Location().String())
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Equal(t, "feed-secret", cfg.Calendar.FeedSecret)
	assert.Equal(t, "https://tutor.example.com", cfg.Calendar.PublicURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestBookingLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, BookingConfig{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, time.UTC, BookingConfig{}.Location())
}
