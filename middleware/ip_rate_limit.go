package middleware

import (
	"net"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"

	"github.com/tradeyard/otc_api/shared"
)

// IPRateLimitMiddleware is the secondary, IP-keyed limiter. It is an open
// extension point: Allow currently admits every request, and the contact-keyed
// ledger remains the enforcing limiter.
type IPRateLimitMiddleware struct {
	context.DefaultService
}

const IP_RATE_LIMIT_SVC = "ip_rate_limit"

func (svc IPRateLimitMiddleware) Id() string {
	return IP_RATE_LIMIT_SVC
}

func (svc *IPRateLimitMiddleware) Configure(ctx *context.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *IPRateLimitMiddleware) Start() error {
	return nil
}

// Allow reports whether requests from the IP are admitted.
func (svc *IPRateLimitMiddleware) Allow(ip string) bool {
	return true
}

func (svc *IPRateLimitMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !svc.Allow(ClientIP(c)) {
			return shared.ResponseJSON(c, fiber.StatusTooManyRequests, "Too many requests. Please slow down.", nil)
		}
		return c.Next()
	}
}

// ClientIP resolves the caller's IP, preferring proxy headers.
func ClientIP(c *fiber.Ctx) string {
	forwarded := c.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	realIP := c.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		return cfIP
	}

	ip, _, err := net.SplitHostPort(c.Context().RemoteAddr().String())
	if err != nil {
		return c.Context().RemoteAddr().String()
	}

	return ip
}
