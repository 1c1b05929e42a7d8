package middleware

import (
	"fmt"
	"net"

	"subscription-checkout/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourceAllowlist only lets through clients whose address falls in one of
// cidrs. An empty list allows everyone.
func SourceAllowlist(logger *zap.Logger, cidrs []string) (gin.HandlerFunc, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse allowlist entry %q: %w", cidr, err)
		}
		nets = append(nets, n)
	}

	return func(c *gin.Context) {
		if len(nets) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		resp := apperr.ToErrorResponse(logger, GetTraceID(c),
			apperr.Forbidden(fmt.Sprintf("source %s is not allowed", c.ClientIP())))
		c.AbortWithStatusJSON(resp.Status, resp)
	}, nil
}
