package ledger

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/imagearena/api/internal/models"
)

// Device classes stored with a vote
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

const maxUserAgentLength = 512

// NewClientMetadata builds best-effort client metadata. Unknown parts are
// left empty, except the device class which defaults to desktop.
func NewClientMetadata(ip, userAgent, country, region string) models.ClientMetadata {
	if len(userAgent) > maxUserAgentLength {
		userAgent = userAgent[:maxUserAgentLength]
	}
	browser, os, device := ParseUserAgent(userAgent)
	return models.ClientMetadata{
		IP:        ip,
		UserAgent: userAgent,
		Browser:   browser,
		OS:        os,
		Device:    device,
		Country:   strings.ToUpper(strings.TrimSpace(country)),
		Region:    strings.TrimSpace(region),
	}
}

// ParseUserAgent reduces a user-agent string to browser family, OS family and
// device class
func ParseUserAgent(s string) (browser, os, device string) {
	if strings.TrimSpace(s) == "" {
		return "", "", DeviceDesktop
	}

	ua := useragent.New(s)
	browser, _ = ua.Browser()
	os = ua.OSInfo().Name

	lower := strings.ToLower(s)
	switch {
	case ua.Bot() || strings.Contains(lower, "bot/") || strings.Contains(lower, "crawler") || strings.Contains(lower, "spider"):
		device = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	default:
		device = DeviceDesktop
	}
	return browser, os, device
}
