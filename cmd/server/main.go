package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"esim-storefront/internal/config"
	"esim-storefront/internal/database"
	"esim-storefront/internal/esimgo"
	"esim-storefront/internal/handlers"
	"esim-storefront/internal/kafka"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/redis"
	"esim-storefront/internal/services"
	"esim-storefront/internal/storage"
	"esim-storefront/internal/telegram"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
// db, redis, producer и consumer равны nil, если соответствующий бэкенд выключен.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	mux      *http.ServeMux
	server   *http.Server
}

// routeHandlers собирает обработчики для setupRoutes
type routeHandlers struct {
	promo     *handlers.PromoHandler
	esimgo    *handlers.ESIMGoHandler
	telegram  *handlers.TelegramHandler
	plans     *handlers.PlansHandler
	orders    *handlers.OrdersHandler
	admin     *handlers.AdminHandler
	health    *handlers.HealthHandler
	rateLimit *handlers.RateLimitHandler
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting eSIM storefront server...")

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	app.close()
	app.log.Info("Server exited")
}

// close освобождает внешние подключения. Методы Close допускают nil.
func (a *application) close() {
	_ = a.producer.Close()
	_ = a.redis.Close()
	_ = a.db.Close()
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)
	app := &application{cfg: cfg, log: log}

	promoLoc, err := time.LoadLocation(cfg.Promo.Timezone)
	if err != nil {
		return nil, fmt.Errorf("promo timezone %q: %w", cfg.Promo.Timezone, err)
	}

	orderStore, storeHealth, err := app.openOrderStore()
	if err != nil {
		app.close()
		return nil, err
	}
	settingsStore := storage.NewSettingsStore(cfg.Storage.SettingsFile, log)

	if cfg.Redis.Enabled {
		app.redis, err = redisConnect(&cfg.Redis, log)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
	}

	// Интерфейсы остаются nil, если Redis или база выключены.
	var (
		sharedPlans services.SharedPlanStore
		rateStore   rateLimitStore
		redisHealth handlers.RedisHealth
		dbHealth    handlers.DBHealth
	)
	if app.redis != nil {
		sharedPlans = app.redis
		rateStore = app.redis
		redisHealth = app.redis
	}
	if app.db != nil {
		dbHealth = app.db
	}

	esimClient := esimgo.NewClient(&cfg.ESIMGo, log)
	telegramClient := telegram.NewClient(&cfg.Telegram, log)
	notifier := services.NewNotificationService(telegramClient, log)

	var publisher services.EventPublisher
	if cfg.Kafka.Enabled {
		app.producer, err = newKafkaProducer(&cfg.Kafka, log)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.consumer, err = newKafkaConsumer(&cfg.Kafka, log)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		registerEventHandlers(app.consumer, notifier, log)
		if err := app.consumer.Start(); err != nil {
			_ = app.consumer.Stop()
			app.close()
			return nil, fmt.Errorf("kafka consumer start: %w", err)
		}
		publisher = app.producer
	} else {
		inline := services.NewInlinePublisher(log)
		for _, eventType := range notifiedEvents {
			inline.Subscribe(eventType, notifier.HandleOrderEvent)
		}
		publisher = inline
	}

	catalogService := services.NewCatalogService(esimClient, log, cfg.Plans.Currency)
	planCache := services.NewPlanCache(catalogService, sharedPlans, log, &cfg.Plans)
	promoService := services.NewPromoService(settingsStore, log, promoLoc)
	pricingService := services.NewPricingService(cfg.Telegram.StarsRate)
	orderService := services.NewOrderService(orderStore, esimClient, publisher, log)
	invoiceService := services.NewInvoiceService(orderService, promoService, pricingService, telegramClient, log, cfg.Plans.Currency)
	paymentService := services.NewPaymentService(orderService, promoService, telegramClient, log)
	migrator := services.NewOrderMigrator(orderStore, log)
	rateLimiter := services.NewRateLimiter(rateStore, log, &cfg.RateLimit)

	var kafkaBrokers []string
	if cfg.Kafka.Enabled {
		kafkaBrokers = cfg.Kafka.Brokers
	}

	routes := routeHandlers{
		promo:     handlers.NewPromoHandler(promoService, log),
		esimgo:    handlers.NewESIMGoHandler(catalogService, orderService, log),
		telegram:  handlers.NewTelegramHandler(invoiceService, paymentService, cfg.Telegram.WebhookSecret, log),
		plans:     handlers.NewPlansHandler(planCache),
		orders:    handlers.NewOrdersHandler(orderService, log),
		admin:     handlers.NewAdminHandler(promoService, orderService, migrator, planCache, log),
		health:    handlers.NewHealthHandler(dbHealth, redisHealth, kafkaBrokers, kafkaHealthCheck).WithOrderStore(storeHealth),
		rateLimit: handlers.NewRateLimitHandler(rateLimiter, log),
	}

	app.mux = setupRoutes(routes, rateLimiter, cfg.Admin.Token, log)
	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return app, nil
}

// rateLimitStore описывает то, что RateLimiter требует от Redis
type rateLimitStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// orderStoreWithHealth описывает хранилище заказов, которое умеет сообщать о своём состоянии
type orderStoreWithHealth interface {
	storage.OrderStore
	Health(ctx context.Context) error
}

// openOrderStore выбирает бэкенд заказов: JSON-файл или PostgreSQL
func (a *application) openOrderStore() (storage.OrderStore, handlers.StoreHealth, error) {
	var store orderStoreWithHealth
	switch a.cfg.Storage.OrdersBackend {
	case "", "file":
		store = storage.NewFileOrderStore(a.cfg.Storage.OrdersFile, a.log)
	case "postgres":
		db, err := dbConnect(&a.cfg.Database, a.log)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		a.db = db

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		store = storage.NewPostgresOrderStore(db, a.log)
	default:
		return nil, nil, fmt.Errorf("unknown orders backend %q", a.cfg.Storage.OrdersBackend)
	}
	return store, store, nil
}

// notifiedEvents перечисляет события, о которых покупатель получает сообщение в Telegram
var notifiedEvents = []models.EventType{
	models.EventTypeOrderPaid,
	models.EventTypeOrderEsimIssued,
	models.EventTypeOrderStatusChanged,
	models.EventTypeOrderPaymentOrphaned,
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, notifier *services.NotificationService, log *logger.Logger) {
	consumer.RegisterHandler(models.EventTypeOrderCreated, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Debug("Order created event received")
		return nil
	})
	for _, eventType := range notifiedEvents {
		consumer.RegisterHandler(eventType, notifier.HandleOrderEvent)
	}
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(h routeHandlers, rateLimiter *services.RateLimiter, adminToken string, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	applyLimited := func(route string, next http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, route, log, next))
	}
	applyAPI := func(next http.HandlerFunc) http.HandlerFunc {
		return applyLimited(services.RouteDefault, next)
	}
	applyAdmin := func(next http.HandlerFunc) http.HandlerFunc {
		return applyAPI(handlers.AdminAuthMiddleware(adminToken, log, next))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(h.health.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(h.health.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(h.health.Liveness))

	// Storefront endpoints
	mux.HandleFunc("/api/promocode/validate", applyLimited(services.RoutePromo, h.promo.Validate))
	mux.HandleFunc("/api/plans", applyAPI(h.plans.List))
	mux.HandleFunc("/api/orders", applyAPI(h.orders.List))
	mux.HandleFunc("/api/orders/", applyAPI(h.orders.Get))

	// eSIM Go endpoints
	mux.HandleFunc("/api/esimgo/bundles", applyAPI(h.esimgo.Bundles))
	mux.HandleFunc("/api/esimgo/catalogue", applyAPI(h.esimgo.Catalogue))
	mux.HandleFunc("/api/esimgo/order", applyAPI(h.esimgo.CreateOrder))

	// Telegram endpoints, вебхук без rate limit
	mux.HandleFunc("/api/telegram/stars/create-invoice", applyLimited(services.RouteInvoice, h.telegram.CreateInvoice))
	mux.HandleFunc("/api/telegram/webhook", h.telegram.Webhook)

	// Admin endpoints
	mux.HandleFunc("/api/admin/promocodes", applyAdmin(handlePromoCodesRoute(h.admin)))
	mux.HandleFunc("/api/admin/promocodes/", applyAdmin(handlePromoCodeRoute(h.admin)))
	mux.HandleFunc("/api/admin/orders/migrate", applyAdmin(h.admin.MigrateOrders))
	mux.HandleFunc("/api/admin/orders/", applyAdmin(handleAdminOrderRoute(h.admin)))
	mux.HandleFunc("/api/admin/plans/cache", applyAdmin(h.admin.ClearPlanCache))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", applyAPI(h.rateLimit.Status))

	return mux
}

// handlePromoCodesRoute обрабатывает коллекцию промокодов
func handlePromoCodesRoute(handler *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListPromoCodes(w, r)
		case http.MethodPost:
			handler.CreatePromoCode(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handlePromoCodeRoute обрабатывает отдельный промокод
func handlePromoCodeRoute(handler *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.GetPromoCode(w, r)
		case http.MethodPut:
			handler.UpdatePromoCode(w, r)
		case http.MethodDelete:
			handler.DeletePromoCode(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleAdminOrderRoute обрабатывает действия над отдельным заказом
func handleAdminOrderRoute(handler *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/status"):
			handler.UpdateOrderStatus(w, r)
		case strings.HasSuffix(r.URL.Path, "/issue"):
			handler.IssueEsim(w, r)
		default:
			writeErrorResponse(w, http.StatusNotFound, "Not found")
		}
	}
}

// corsMiddleware разрешает запросы из Mini App
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Telegram-Bot-Api-Secret-Token, X-Telegram-User-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Success: false, Error: message})
}
