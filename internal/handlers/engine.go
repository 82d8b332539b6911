package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/imagearena/api/internal/config"
)

// NewEngine returns a bare gin engine. Forwarding headers such as
// X-Forwarded-For are only honored when the peer is in cfg.TrustedProxies;
// with none configured ClientIP is always the socket address.
func NewEngine(cfg *config.Config) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	return r, nil
}
