package ledger

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		browser string
		device  string
	}{
		{
			name:    "desktop chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser: "Chrome",
			device:  DeviceDesktop,
		},
		{
			name:   "iphone",
			ua:     "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			device: DeviceMobile,
		},
		{
			name:   "ipad",
			ua:     "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			device: DeviceTablet,
		},
		{
			name:   "crawler",
			ua:     "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			device: DeviceBot,
		},
		{
			name:   "empty",
			ua:     "",
			device: DeviceDesktop,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			browser, _, device := ParseUserAgent(tc.ua)
			assert.Equal(t, tc.device, device)
			if tc.browser != "" {
				assert.Equal(t, tc.browser, browser)
			}
		})
	}
}

func TestNewClientMetadataTruncatesUserAgent(t *testing.T) {
	meta := NewClientMetadata("1.2.3.4", strings.Repeat("x", 2000), " us ", "")
	assert.Len(t, meta.UserAgent, maxUserAgentLength)
	assert.Equal(t, "US", meta.Country)
	assert.Equal(t, "1.2.3.4", meta.IP)
}

func TestMemoryDeduperExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }

	first := uuid.New()
	id, ok, err := d.Claim(ctx, "k", first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, id)

	id, ok, err = d.Claim(ctx, "k", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first, id)

	now = now.Add(2 * time.Minute)
	_, ok, err = d.Claim(ctx, "k", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be claimed again")
}

func TestRedisDeduper(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	d := NewRedisDeduper(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer d.Release(ctx, key)

	first := uuid.New()
	_, ok, err := d.Claim(ctx, key, first)
	require.NoError(t, err)
	assert.True(t, ok)

	id, ok, err := d.Claim(ctx, key, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first, id)

	require.NoError(t, d.Release(ctx, key))
	_, ok, err = d.Claim(ctx, key, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}
