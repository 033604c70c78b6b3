package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters limita o mapa; ao estourar ele é recriado
const maxLimiters = 10000

// userLimiter mantém um token bucket por usuário
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newUserLimiter(rps float64, burst int) *userLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{limiters: make(map[string]*rate.Limiter), rate: rate.Limit(rps), burst: burst}
}

// Allow consome um token do usuário; rps <= 0 desliga o limite
func (l *userLimiter) Allow(key string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
