package middleware

import (
	"net/netip"

	"github.com/gin-gonic/gin"
)

// ClientAddr returns the caller address resolved through the trusted proxies,
// or nil when it cannot be parsed.
func ClientAddr(c *gin.Context) *netip.Addr {
	addr, err := netip.ParseAddr(c.ClientIP())
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	return &addr
}
