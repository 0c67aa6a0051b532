package services

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"esim-storefront/internal/config"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/redis"
)

const (
	defaultPlanCacheTTL      = 5 * time.Minute
	defaultPlanCacheCapacity = 32
	allPlansKey              = "all"
)

// PlanFetcher загружает тарифы у провайдера
type PlanFetcher interface {
	FetchPlans(ctx context.Context, countryCode, region string) (*models.PlanSet, error)
}

// SharedPlanStore описывает общий для нескольких процессов уровень кеша (Redis)
type SharedPlanStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

type planEntry struct {
	Key       string         `json:"key"`
	Plans     models.PlanSet `json:"plans"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// PlanCache хранит тарифы по ключу страны или региона с TTL и вытеснением давно не использованных ключей.
// При ошибке загрузки отдаются резервные тарифы, кеш при этом не меняется.
type PlanCache struct {
	fetcher  PlanFetcher
	shared   SharedPlanStore
	log      *logger.Logger
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

// NewPlanCache создает кеш. shared может быть nil.
func NewPlanCache(fetcher PlanFetcher, shared SharedPlanStore, log *logger.Logger, cfg *config.PlansConfig) *PlanCache {
	ttl := defaultPlanCacheTTL
	capacity := defaultPlanCacheCapacity
	if cfg != nil {
		if cfg.CacheTTLSeconds > 0 {
			ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
		}
		if cfg.CacheCapacity > 0 {
			capacity = cfg.CacheCapacity
		}
	}
	return &PlanCache{
		fetcher:  fetcher,
		shared:   shared,
		log:      log,
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// PlanCacheKey возвращает ключ кеша: код страны, иначе регион, иначе "all"
func PlanCacheKey(countryCode, region string) string {
	if code := strings.ToUpper(strings.TrimSpace(countryCode)); code != "" {
		return code
	}
	if region = strings.TrimSpace(region); region != "" {
		return region
	}
	return allPlansKey
}

// LoadPlans возвращает тарифы и признак того, что это резервный набор
func (c *PlanCache) LoadPlans(ctx context.Context, countryCode, region string) (models.PlanSet, bool) {
	key := PlanCacheKey(countryCode, region)

	if plans, ok := c.lookup(key); ok {
		return plans, false
	}

	if plans, ok := c.lookupShared(ctx, key); ok {
		return plans, false
	}

	fetched, err := c.fetcher.FetchPlans(ctx, strings.TrimSpace(countryCode), strings.TrimSpace(region))
	if err != nil || fetched == nil {
		c.log.WithComponent("plans").WithError(err).WithField("key", key).Warn("Failed to fetch plans, using fallback")
		return fallbackPlans(), true
	}

	plans := *fetched
	assignPlanIDs(&plans)
	entry := planEntry{Key: key, Plans: plans, FetchedAt: c.now()}
	c.store(entry)
	c.storeShared(ctx, entry)

	c.log.WithComponent("plans").WithFields(map[string]interface{}{
		"key":       key,
		"standard":  len(plans.Standard),
		"unlimited": len(plans.Unlimited),
	}).Debug("Plans cached")

	return copyPlanSet(plans), false
}

// Clear очищает кеш, включая общий уровень
func (c *PlanCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	if c.shared == nil {
		return nil
	}
	if err := c.shared.DeleteByPrefix(ctx, redis.KeyPrefixPlans+":"); err != nil {
		return fmt.Errorf("failed to clear shared plan cache: %w", err)
	}
	return nil
}

// Len возвращает количество ключей в памяти
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *PlanCache) lookup(key string) (models.PlanSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return models.PlanSet{}, false
	}
	entry := elem.Value.(*planEntry)
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		return models.PlanSet{}, false
	}
	c.order.MoveToFront(elem)
	return copyPlanSet(entry.Plans), true
}

func (c *PlanCache) store(entry planEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[entry.Key]; ok {
		elem.Value = &entry
		c.order.MoveToFront(elem)
		return
	}

	c.entries[entry.Key] = c.order.PushFront(&entry)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*planEntry).Key)
	}
}

func (c *PlanCache) lookupShared(ctx context.Context, key string) (models.PlanSet, bool) {
	if c.shared == nil {
		return models.PlanSet{}, false
	}

	redisKey := redis.GenerateKey(redis.KeyPrefixPlans, key)
	var entry planEntry
	if err := c.shared.Get(ctx, redisKey, &entry); err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			c.log.WithComponent("plans").WithError(err).WithField("key", redisKey).Warn("Failed to read shared plan cache")
			_ = c.shared.Delete(ctx, redisKey)
		}
		return models.PlanSet{}, false
	}
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		return models.PlanSet{}, false
	}

	entry.Key = key
	c.store(entry)
	return copyPlanSet(entry.Plans), true
}

func (c *PlanCache) storeShared(ctx context.Context, entry planEntry) {
	if c.shared == nil {
		return
	}
	redisKey := redis.GenerateKey(redis.KeyPrefixPlans, entry.Key)
	if err := c.shared.Set(ctx, redisKey, entry, c.ttl); err != nil {
		c.log.WithComponent("plans").WithError(err).WithField("key", redisKey).Warn("Failed to write shared plan cache")
	}
}

// assignPlanIDs проставляет plan1, plan2… и unlimited1… тарифам без идентификатора
func assignPlanIDs(plans *models.PlanSet) {
	for i := range plans.Standard {
		if plans.Standard[i].ID == "" {
			plans.Standard[i].ID = fmt.Sprintf("plan%d", i+1)
		}
	}
	for i := range plans.Unlimited {
		if plans.Unlimited[i].ID == "" {
			plans.Unlimited[i].ID = fmt.Sprintf("unlimited%d", i+1)
		}
	}
}

func copyPlanSet(plans models.PlanSet) models.PlanSet {
	return models.PlanSet{
		Standard:  append([]models.PlanOffer{}, plans.Standard...),
		Unlimited: append([]models.PlanOffer{}, plans.Unlimited...),
	}
}

// fallbackPlans возвращает резервные тарифы на случай недоступности провайдера
func fallbackPlans() models.PlanSet {
	return models.PlanSet{
		Standard: []models.PlanOffer{
			{ID: "plan1", Name: "1 GB", Data: "1 GB", DataAmount: 1, DataUnit: "GB", Duration: 7, Validity: "7 days", Price: 4.99, Currency: "USD"},
			{ID: "plan2", Name: "3 GB", Data: "3 GB", DataAmount: 3, DataUnit: "GB", Duration: 15, Validity: "15 days", Price: 9.99, Currency: "USD"},
			{ID: "plan3", Name: "5 GB", Data: "5 GB", DataAmount: 5, DataUnit: "GB", Duration: 30, Validity: "30 days", Price: 14.99, Currency: "USD"},
			{ID: "plan4", Name: "10 GB", Data: "10 GB", DataAmount: 10, DataUnit: "GB", Duration: 30, Validity: "30 days", Price: 24.99, Currency: "USD"},
		},
		Unlimited: []models.PlanOffer{
			{ID: "unlimited1", Name: "Unlimited 1 day", Data: "Unlimited", DataUnit: "GB", Duration: 1, Validity: "1 day", Price: 5.99, Currency: "USD", Unlimited: true},
			{ID: "unlimited2", Name: "Unlimited 3 days", Data: "Unlimited", DataUnit: "GB", Duration: 3, Validity: "3 days", Price: 14.99, Currency: "USD", Unlimited: true},
			{ID: "unlimited3", Name: "Unlimited 7 days", Data: "Unlimited", DataUnit: "GB", Duration: 7, Validity: "7 days", Price: 29.99, Currency: "USD", Unlimited: true},
			{ID: "unlimited4", Name: "Unlimited 15 days", Data: "Unlimited", DataUnit: "GB", Duration: 15, Validity: "15 days", Price: 49.99, Currency: "USD", Unlimited: true},
		},
	}
}
