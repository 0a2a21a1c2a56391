package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/simstore/internal/config"
)

const keyCheckoutIP = "checkout:ip:%s"

// CheckoutLimiter throttles checkout creation per client IP.
type CheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCheckoutLimiter(cfg config.Config, bucket *TokenBucket) *CheckoutLimiter {
	if !cfg.RateLimit.Enabled || bucket == nil {
		return nil
	}
	rate, burst := cfg.RateLimit.CheckoutRate, cfg.RateLimit.CheckoutBurst
	if rate <= 0 || burst <= 0 {
		return nil
	}
	return &CheckoutLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether clientIP may open another checkout. A disabled
// limiter allows everything.
func (l *CheckoutLimiter) Allow(ctx context.Context, clientIP string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCheckoutIP, clientIP), l.rate, l.burst)
}
