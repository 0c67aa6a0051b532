package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"esim-storefront/internal/config"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/redis"
)

// Маршруты со своим лимитом. Остальные API считаются по RouteDefault.
const (
	RouteDefault = "api"
	RouteInvoice = "invoice"
	RoutePromo   = "promocode"
)

// RouteLimit задаёт число запросов одного покупателя к маршруту за окно.
type RouteLimit struct {
	Requests int64
	Window   time.Duration
}

// RateDecision описывает состояние окна покупателя на маршруте.
type RateDecision struct {
	Allowed   bool
	Limit     int64
	Used      int64
	Remaining int64
	ResetAt   time.Time // нулевое, если окно ещё не открыто
}

// RateLimiter считает запросы в фиксированном окне Redis.
// Ключ окна prefix:route:subject, subject это user:<telegram id> или ip:<адрес>.
type RateLimiter struct {
	redis   rateRedis
	log     *logger.Logger
	enabled bool
	prefix  string
	routes  map[string]RouteLimit
	now     func() time.Time
}

type rateRedis interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// NewRateLimiter собирает лимиты маршрутов из конфигурации.
// Без Redis или с выключенной настройкой запросы не ограничиваются.
func NewRateLimiter(store rateRedis, log *logger.Logger, cfg *config.RateLimitConfig) *RateLimiter {
	if store == nil || cfg == nil || !cfg.Enabled || cfg.WindowSeconds <= 0 {
		return &RateLimiter{routes: map[string]RouteLimit{}, now: time.Now}
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	routes := make(map[string]RouteLimit, 3)
	for route, requests := range map[string]int{
		RouteDefault: cfg.Requests,
		RouteInvoice: cfg.InvoiceRequests,
		RoutePromo:   cfg.PromoRequests,
	} {
		if requests > 0 {
			routes[route] = RouteLimit{Requests: int64(requests), Window: window}
		}
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RateLimiter{
		redis:   store,
		log:     log,
		enabled: len(routes) > 0,
		prefix:  prefix,
		routes:  routes,
		now:     time.Now,
	}
}

// Enabled сообщает, ограничивает ли limiter хоть один маршрут.
func (r *RateLimiter) Enabled() bool {
	return r.enabled
}

// LimitFor возвращает лимит маршрута. Маршрут без своего лимита получает лимит RouteDefault.
func (r *RateLimiter) LimitFor(route string) (RouteLimit, bool) {
	if limit, ok := r.routes[route]; ok {
		return limit, true
	}
	limit, ok := r.routes[RouteDefault]
	return limit, ok
}

// Allow учитывает запрос subject к route и сообщает, укладывается ли он в окно.
func (r *RateLimiter) Allow(ctx context.Context, route, subject string) (RateDecision, error) {
	limit, ok := r.LimitFor(route)
	if !r.enabled || !ok {
		return RateDecision{Allowed: true}, nil
	}

	key := r.makeKey(route, subject)
	count, err := r.redis.Incr(ctx, key)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limiter incr failed: %w", err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, limit.Window); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("Failed to set rate limit ttl")
		}
	}

	decision := r.decision(ctx, key, limit, count)
	decision.Allowed = count <= limit.Requests
	if !decision.Allowed {
		r.log.WithFields(map[string]interface{}{
			"route":   route,
			"subject": subject,
			"count":   count,
		}).Warn("Rate limit exceeded")
	}
	return decision, nil
}

// Usage возвращает состояние окна без учёта нового запроса.
func (r *RateLimiter) Usage(ctx context.Context, route, subject string) (RateDecision, error) {
	limit, ok := r.LimitFor(route)
	if !r.enabled || !ok {
		return RateDecision{Allowed: true}, nil
	}

	key := r.makeKey(route, subject)
	count, err := r.redis.GetInt(ctx, key)
	if err != nil && !errors.Is(err, redis.ErrNotFound) {
		return RateDecision{}, fmt.Errorf("rate limiter usage failed: %w", err)
	}
	if count == 0 {
		// окно ещё не открыто
		return RateDecision{Allowed: true, Limit: limit.Requests, Remaining: limit.Requests}, nil
	}

	decision := r.decision(ctx, key, limit, count)
	decision.Allowed = count < limit.Requests
	return decision, nil
}

func (r *RateLimiter) decision(ctx context.Context, key string, limit RouteLimit, count int64) RateDecision {
	ttl, err := r.redis.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		if err != nil {
			r.log.WithError(err).WithField("key", key).Warn("Failed to get rate limit ttl")
		}
		ttl = limit.Window
	}

	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Limit:     limit.Requests,
		Used:      count,
		Remaining: remaining,
		ResetAt:   r.now().Add(ttl),
	}
}

func (r *RateLimiter) makeKey(route, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, route, strings.ReplaceAll(subject, " ", "_"))
}

// UserSubject строит subject лимита для покупателя Telegram.
func UserSubject(telegramUserID string) string {
	return "user:" + strings.TrimSpace(telegramUserID)
}

// IPSubject строит subject лимита для анонимного клиента.
func IPSubject(ip string) string {
	return "ip:" + ip
}
