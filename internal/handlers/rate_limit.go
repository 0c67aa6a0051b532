package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/services"
)

// telegramUserHeader позволяет Mini App передать покупателя в GET запросах без query.
const telegramUserHeader = "X-Telegram-User-Id"

// RouteLimiter описывает limiter с отдельными окнами на маршрут и покупателя.
type RouteLimiter interface {
	Enabled() bool
	Allow(ctx context.Context, route, subject string) (services.RateDecision, error)
	Usage(ctx context.Context, route, subject string) (services.RateDecision, error)
}

// RateLimitHandler показывает покупателю остаток лимита.
type RateLimitHandler struct {
	limiter RouteLimiter
	log     *logger.Logger
}

// NewRateLimitHandler создает обработчик статуса лимита.
func NewRateLimitHandler(limiter RouteLimiter, log *logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, log: log}
}

// Status возвращает окно покупателя: GET /api/rate-limit/status?route=invoice&telegram_user_id=...
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.limiter == nil || !h.limiter.Enabled() {
		writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	route := strings.TrimSpace(r.URL.Query().Get("route"))
	if route == "" {
		route = services.RouteDefault
	}
	subject := rateLimitSubject(r)
	usage, err := h.limiter.Usage(r.Context(), route, subject)
	if err != nil {
		h.log.WithError(err).WithField("route", route).Error("Failed to fetch rate limit usage")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to fetch rate limit usage")
		return
	}

	resp := map[string]interface{}{
		"enabled":   true,
		"route":     route,
		"subject":   subject,
		"limit":     usage.Limit,
		"used":      usage.Used,
		"remaining": usage.Remaining,
	}
	if !usage.ResetAt.IsZero() {
		resp["reset_at"] = usage.ResetAt.UTC().Format(time.RFC3339)
	}
	writeSuccessResponse(w, http.StatusOK, resp)
}

// RateLimitMiddleware ограничивает запросы покупателя к маршруту route.
func RateLimitMiddleware(limiter RouteLimiter, route string, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil || !limiter.Enabled() || r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		subject := rateLimitSubject(r)
		decision, err := limiter.Allow(r.Context(), route, subject)
		if err != nil {
			log.WithError(err).WithField("route", route).Error("Rate limiter failed")
			writeErrorResponse(w, http.StatusInternalServerError, "Rate limiter error")
			return
		}

		if decision.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		}
		if !decision.ResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed {
			if wait := time.Until(decision.ResetAt); wait > 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(wait.Seconds())+1, 10))
			}
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}

		next(w, r)
	}
}

// rateLimitSubject определяет, чьи запросы считать: telegram_user_id из query,
// заголовка или JSON тела, иначе IP клиента. Тело запроса остаётся доступным хендлеру.
func rateLimitSubject(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("telegram_user_id")); id != "" {
		return services.UserSubject(id)
	}
	if id := strings.TrimSpace(r.Header.Get(telegramUserHeader)); id != "" {
		return services.UserSubject(id)
	}
	if id := bodyTelegramUserID(r); id != "" {
		return services.UserSubject(id)
	}
	return services.IPSubject(clientIP(r))
}

func bodyTelegramUserID(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody || r.Method == http.MethodGet {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var peek struct {
		TelegramUserID models.UserID `json:"telegram_user_id"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return strings.TrimSpace(peek.TelegramUserID.String())
}

func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
