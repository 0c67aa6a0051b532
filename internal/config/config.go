package config

import (
	"os"
	"strconv"
	"strings"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Logger    LoggerConfig    `json:"logger"`
	ESIMGo    ESIMGoConfig    `json:"esimgo"`
	Telegram  TelegramConfig  `json:"telegram"`
	Plans     PlansConfig     `json:"plans"`
	Promo     PromoConfig     `json:"promo"`
	Admin     AdminConfig     `json:"admin"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// StorageConfig описывает, где лежат JSON-документы с заказами и настройками
type StorageConfig struct {
	OrdersBackend string `json:"orders_backend"` // file | postgres
	OrdersFile    string `json:"orders_file"`
	SettingsFile  string `json:"settings_file"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Orders string `json:"orders"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// ESIMGoConfig описывает доступ к API провайдера eSIM
type ESIMGoConfig struct {
	BaseURL           string  `json:"base_url"`
	APIKey            string  `json:"api_key"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// TelegramConfig описывает доступ к Bot API и параметры оплаты звёздами
type TelegramConfig struct {
	BotToken       string  `json:"bot_token"`
	APIURL         string  `json:"api_url"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	StarsRate      float64 `json:"stars_rate"` // звёзд за единицу валюты
	WebhookSecret  string  `json:"webhook_secret"`
}

// PlansConfig хранит настройки кеша тарифов
type PlansConfig struct {
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	CacheCapacity   int    `json:"cache_capacity"`
	Currency        string `json:"currency"`
}

// PromoConfig хранит настройки промокодов
type PromoConfig struct {
	Timezone string `json:"timezone"` // в каком часовом поясе считать даты начала и окончания
}

// AdminConfig хранит токен для административных эндпоинтов
type AdminConfig struct {
	Token string `json:"token"`
}

// RateLimitConfig описывает настройки rate limiting
type RateLimitConfig struct {
	Enabled         bool   `json:"enabled"`
	Requests        int    `json:"requests"`         // лимит по умолчанию для API
	InvoiceRequests int    `json:"invoice_requests"` // создание счетов на покупателя
	PromoRequests   int    `json:"promo_requests"`   // проверка промокодов на покупателя
	WindowSeconds   int    `json:"window_seconds"`
	KeyPrefix       string `json:"key_prefix"`
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Storage: StorageConfig{
			OrdersBackend: strings.ToLower(getEnv("ORDERS_BACKEND", "file")),
			OrdersFile:    getEnv("ORDERS_FILE", "data/orders.json"),
			SettingsFile:  getEnv("SETTINGS_FILE", "data/settings.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "esim_user"),
			Password: getEnv("DB_PASSWORD", "esim_pass"),
			DBName:   getEnv("DB_NAME", "esim_store"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "esim-storefront"),
			Topics: Topics{
				Orders: getEnv("KAFKA_TOPIC_ORDERS", "esim.orders"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		ESIMGo: ESIMGoConfig{
			BaseURL:           getEnv("ESIMGO_BASE_URL", "https://api.esim-go.com/v2.4"),
			APIKey:            getEnv("ESIMGO_API_KEY", ""),
			TimeoutSeconds:    getEnvAsInt("ESIMGO_TIMEOUT_SECONDS", 15),
			RequestsPerSecond: getEnvAsFloat("ESIMGO_RPS", 5),
			Burst:             getEnvAsInt("ESIMGO_BURST", 10),
		},
		Telegram: TelegramConfig{
			BotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:         getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			TimeoutSeconds: getEnvAsInt("TELEGRAM_TIMEOUT_SECONDS", 10),
			StarsRate:      getEnvAsFloat("STARS_RATE", 50),
			WebhookSecret:  getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		Plans: PlansConfig{
			CacheTTLSeconds: getEnvAsInt("PLAN_CACHE_TTL_SECONDS", 300),
			CacheCapacity:   getEnvAsInt("PLAN_CACHE_CAPACITY", 32),
			Currency:        getEnv("PLAN_CURRENCY", "USD"),
		},
		Promo: PromoConfig{
			Timezone: getEnv("PROMO_TIMEZONE", "UTC"),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:        getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			InvoiceRequests: getEnvAsInt("RATE_LIMIT_INVOICE_REQUESTS", 10),
			PromoRequests:   getEnvAsInt("RATE_LIMIT_PROMO_REQUESTS", 20),
			WindowSeconds:   getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:       getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit"),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
