package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_CANDIDATES", "")
	t.Setenv("SUPPORTED_LOCALES", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg := Load()

	assert.Equal(t, 4, cfg.MaxCandidates)
	assert.Equal(t, "en", cfg.DefaultLocale)
	assert.Equal(t, []string{"en", "es"}, cfg.SupportedLocales)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Empty(t, cfg.TrustedProxies, "no proxy is trusted unless configured")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CANDIDATES", "3")
	t.Setenv("LOCK_TTL", "750ms")
	t.Setenv("REQUIRE_RESERVATION_TOKEN", "true")
	t.Setenv("SUPPORTED_LOCALES", "en, fr ,,de")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg := Load()

	assert.Equal(t, 3, cfg.MaxCandidates)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTTL)
	assert.True(t, cfg.RequireReservationToken)
	assert.Equal(t, []string{"en", "fr", "de"}, cfg.SupportedLocales)
	assert.True(t, cfg.IsSupportedLocale("fr"))
	assert.False(t, cfg.IsSupportedLocale("es"))
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_CANDIDATES", "four")
	t.Setenv("ALLOCATE_BACKOFF_MAX", "soon")

	cfg := Load()

	assert.Equal(t, 4, cfg.MaxCandidates)
	assert.Equal(t, 200*time.Millisecond, cfg.AllocateBackoffMax)
}
